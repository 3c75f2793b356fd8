package websocket

import (
	"fmt"
	"strings"
	"time"

	"statarb/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeLegEvent - итог одной ноги (подана, найдена, заблокирована)
	MessageTypeLegEvent MessageType = "legEvent"

	// MessageTypePairEvent - итог обработки сигнала пары
	MessageTypePairEvent MessageType = "pairEvent"

	// MessageTypeRunSummary - сводка прогона исполнения
	MessageTypeRunSummary MessageType = "runSummary"

	// MessageTypeKillSwitch - изменение kill switch через API
	MessageTypeKillSwitch MessageType = "killSwitch"
)

// BaseMessage - общие поля всех сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// Kind возвращает тип сообщения; по нему работает фильтр клиента
func (m BaseMessage) Kind() MessageType {
	return m.Type
}

// Message - любое исходящее сообщение хаба
type Message interface {
	Kind() MessageType
}

var knownTypes = map[MessageType]struct{}{
	MessageTypeLegEvent:   {},
	MessageTypePairEvent:  {},
	MessageTypeRunSummary: {},
	MessageTypeKillSwitch: {},
}

// ParseMessageTypes разбирает фильтр подписки "legEvent,runSummary".
// Пустая строка означает все типы (nil).
func ParseMessageTypes(raw string) (map[MessageType]struct{}, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	types := make(map[MessageType]struct{})
	for _, part := range strings.Split(raw, ",") {
		t := MessageType(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if _, ok := knownTypes[t]; !ok {
			return nil, fmt.Errorf("unknown message type %q", t)
		}
		types[t] = struct{}{}
	}
	if len(types) == 0 {
		return nil, nil
	}
	return types, nil
}

// LegEventMessage - сообщение о ноге
type LegEventMessage struct {
	BaseMessage
	Data *models.LegEvent `json:"data"`
}

// PairEventMessage - сообщение о паре
type PairEventMessage struct {
	BaseMessage
	Data *models.PairEvent `json:"data"`
}

// RunSummaryMessage - сообщение со сводкой прогона
type RunSummaryMessage struct {
	BaseMessage
	Data *models.RunSummary `json:"data"`
}

// KillSwitchMessage - новое состояние kill switch
type KillSwitchMessage struct {
	BaseMessage
	TradingEnabled bool `json:"trading_enabled"`
}

// ============ Фабричные функции ============

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().UTC()}
}

// NewLegEventMessage создает сообщение о ноге
func NewLegEventMessage(ev *models.LegEvent) *LegEventMessage {
	return &LegEventMessage{BaseMessage: newBase(MessageTypeLegEvent), Data: ev}
}

// NewPairEventMessage создает сообщение о паре
func NewPairEventMessage(ev *models.PairEvent) *PairEventMessage {
	return &PairEventMessage{BaseMessage: newBase(MessageTypePairEvent), Data: ev}
}

// NewRunSummaryMessage создает сообщение со сводкой прогона
func NewRunSummaryMessage(summary *models.RunSummary) *RunSummaryMessage {
	return &RunSummaryMessage{BaseMessage: newBase(MessageTypeRunSummary), Data: summary}
}

// NewKillSwitchMessage создает сообщение о kill switch
func NewKillSwitchMessage(enabled bool) *KillSwitchMessage {
	return &KillSwitchMessage{BaseMessage: newBase(MessageTypeKillSwitch), TradingEnabled: enabled}
}
