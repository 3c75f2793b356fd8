package websocket

import (
	"bytes"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"statarb/internal/models"
	"statarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize - очередь сообщений между Broadcast и Run
const broadcastBufferSize = 256

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

var (
	// ClientsConnected - число подключенных клиентов
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statarb",
		Subsystem: "ws",
		Name:      "clients_connected",
		Help:      "Number of connected websocket clients",
	})

	// MessagesDropped - сообщения, не попавшие в очередь или к медленному клиенту
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "ws",
		Name:      "messages_dropped_total",
		Help:      "Websocket messages dropped because a queue was full",
	})
)

// outbound - сериализованное сообщение с типом для фильтра подписки
type outbound struct {
	kind MessageType
	data []byte
}

// Hub раздает события исполнения всем подключенным клиентам.
//
// Broadcast никогда не блокирует вызывающего: прогон исполнения не должен
// ждать медленный фронтенд. При переполнении очереди сообщение теряется и
// учитывается в DroppedMessages. Клиент, не успевающий читать, отключается.
//
// Использование:
//  1. hub := NewHub(logger, origins)
//  2. go hub.Run()
//  3. router.HandleFunc("/ws/stream", hub.ServeWS) (?types=legEvent,... сужает подписку)
//  4. hub.Stop() при завершении
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	dropped atomic.Int64

	upgrader websocket.Upgrader
	logger   *utils.Logger
}

// NewHub создает Hub. Пустой allowedOrigins или "*" разрешает любой Origin.
func NewHub(logger *utils.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	origins := NewOriginChecker(allowedOrigins)

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return origins.Check(r.Header.Get("Origin"))
			},
			EnableCompression: true,
		},
		logger: logger.WithComponent("ws_hub"),
	}
}

// Run - главный цикл Hub. Запускается в отдельной горутине и
// завершается после Stop, закрывая все клиентские соединения.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			ClientsConnected.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			ClientsConnected.Set(float64(total))
			h.logger.Info("client connected", utils.Event("ws_client_connected"), utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			ClientsConnected.Set(float64(total))
			h.logger.Info("client disconnected", utils.Event("ws_client_disconnected"), utils.Int("clients", total))

		case out := <-h.broadcast:
			h.fanOut(out)
		}
	}
}

// fanOut рассылает сообщение подписанным клиентам; клиенты с полным буфером отключаются
func (h *Hub) fanOut(out outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.wants(out.kind) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- out.data:
		default:
			slow = append(slow, client)
		}
	}
	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	MessagesDropped.Add(float64(len(slow)))
	ClientsConnected.Set(float64(total))
	h.logger.Warn("removed slow clients", utils.Event("ws_slow_clients"), utils.Int("removed", len(slow)), utils.Int("clients", total))
}

// Stop останавливает Run. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast сериализует сообщение и ставит его в очередь без блокировки
func (h *Hub) Broadcast(message Message) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to encode broadcast message", utils.Event("ws_encode_failed"), utils.Err(err))
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- outbound{kind: message.Kind(), data: msg}:
	default:
		h.dropped.Add(1)
		MessagesDropped.Inc()
	}
}

// BroadcastLegEvent отправляет итог ноги
func (h *Hub) BroadcastLegEvent(ev *models.LegEvent) {
	h.Broadcast(NewLegEventMessage(ev))
}

// BroadcastPairEvent отправляет итог пары
func (h *Hub) BroadcastPairEvent(ev *models.PairEvent) {
	h.Broadcast(NewPairEventMessage(ev))
}

// BroadcastRunSummary отправляет сводку прогона
func (h *Hub) BroadcastRunSummary(summary *models.RunSummary) {
	h.Broadcast(NewRunSummaryMessage(summary))
}

// BroadcastKillSwitch отправляет новое состояние kill switch
func (h *Hub) BroadcastKillSwitch(enabled bool) {
	h.Broadcast(NewKillSwitchMessage(enabled))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сообщения, потерянные из-за полной очереди Broadcast
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
