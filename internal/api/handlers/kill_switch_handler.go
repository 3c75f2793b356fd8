package handlers

import (
	"net/http"

	"statarb/pkg/utils"
)

// KillSwitch - переключатель торговли (bot.Runner)
type KillSwitch interface {
	TradingEnabled() bool
	SetTradingEnabled(enabled bool)
}

// KillSwitchNotifier - рассылка нового состояния (websocket.Hub)
type KillSwitchNotifier interface {
	BroadcastKillSwitch(enabled bool)
}

// KillSwitchHandler читает и переключает kill switch.
// Новое значение действует со следующего прогона.
//
// Endpoints:
// - GET /api/v1/kill-switch
// - POST /api/v1/kill-switch {"trading_enabled": false} (TokenAuth)
type KillSwitchHandler struct {
	sw       KillSwitch
	notifier KillSwitchNotifier
	logger   *utils.Logger
}

// NewKillSwitchHandler создает KillSwitchHandler; notifier может быть nil
func NewKillSwitchHandler(sw KillSwitch, notifier KillSwitchNotifier, logger *utils.Logger) *KillSwitchHandler {
	if logger == nil {
		logger = utils.L()
	}
	return &KillSwitchHandler{sw: sw, notifier: notifier, logger: logger.WithComponent("api")}
}

// KillSwitchState - тело ответа и запроса
type KillSwitchState struct {
	TradingEnabled *bool `json:"trading_enabled"`
}

// GetKillSwitch возвращает текущее состояние
func (h *KillSwitchHandler) GetKillSwitch(w http.ResponseWriter, r *http.Request) {
	enabled := h.sw.TradingEnabled()
	respondWithJSON(w, http.StatusOK, KillSwitchState{TradingEnabled: &enabled})
}

// SetKillSwitch переключает торговлю
//
// HTTP коды:
// - 200 OK: новое состояние в ответе
// - 400 Bad Request: невалидный JSON или нет trading_enabled
func (h *KillSwitchHandler) SetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchState
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TradingEnabled == nil {
		respondWithError(w, http.StatusBadRequest, "trading_enabled is required")
		return
	}

	enabled := *req.TradingEnabled
	previous := h.sw.TradingEnabled()
	h.sw.SetTradingEnabled(enabled)

	h.logger.Warn("kill switch changed",
		utils.Event("kill_switch_set"),
		utils.Bool("trading_enabled", enabled),
		utils.Bool("previous", previous),
		utils.String("remote_addr", r.RemoteAddr),
	)
	if h.notifier != nil {
		h.notifier.BroadcastKillSwitch(enabled)
	}

	respondWithJSON(w, http.StatusOK, KillSwitchState{TradingEnabled: &enabled})
}
