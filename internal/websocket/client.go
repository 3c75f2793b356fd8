package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"statarb/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Лента только на выход; входящие фреймы читаются ради pong и close
	maxMessageSize = 4096

	clientSendBufferSize = 256
)

// OriginChecker - список разрешенных Origin (ALLOWED_ORIGINS)
type OriginChecker struct {
	allowed  map[string]struct{}
	allowAll bool
}

// NewOriginChecker строит проверку по списку. Пустой список или "*" разрешают все.
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			oc.allowAll = true
		} else if o != "" {
			oc.allowed[o] = struct{}{}
		}
	}
	oc.allowAll = oc.allowAll || len(oc.allowed) == 0
	return oc
}

// Check проверяет origin. Запросы без Origin (curl, скрипты) пропускаются.
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" || oc.allowAll {
		return true
	}
	_, ok := oc.allowed[origin]
	return ok
}

// Client - подписчик ленты исполнения.
// types == nil означает подписку на все типы сообщений.
type Client struct {
	conn  *websocket.Conn
	hub   *Hub
	send  chan []byte
	types map[MessageType]struct{}
}

func (c *Client) wants(kind MessageType) bool {
	if c.types == nil {
		return true
	}
	_, ok := c.types[kind]
	return ok
}

func (c *Client) write(frameType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(frameType, payload)
}

// readPump держит read deadline по pong и снимает клиента с хаба при обрыве
func (c *Client) readPump() {
	defer c.conn.Close()
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, _, err := c.conn.NextReader()
		if err == nil {
			continue
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
			c.hub.logger.Warn("websocket read failed", utils.Event("ws_read_error"), utils.Err(err))
		}
		return
	}
}

// writePump пишет сообщения из send и ping. Закрытый send - сигнал хаба отключиться.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case payload, open := <-c.send:
			if !open {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			err = c.write(websocket.TextMessage, payload)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// ServeWS апгрейдит запрос и подписывает клиента на ленту.
// Параметр types ограничивает подписку ("legEvent,runSummary");
// неизвестный тип - 400 до апгрейда.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	types, err := ParseMessageTypes(r.URL.Query().Get("types"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", utils.Event("ws_upgrade_failed"), utils.Err(err))
		return
	}

	client := &Client{
		conn:  conn,
		hub:   h,
		send:  make(chan []byte, clientSendBufferSize),
		types: types,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
