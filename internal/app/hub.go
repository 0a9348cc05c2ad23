package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rebalance-trader/internal/engine"
	"rebalance-trader/internal/monitor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventHub 把引擎事件实时推送给 websocket 订阅端。
// 广播队列满时丢弃事件，保证绝不阻塞引擎事件循环。
type eventHub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	broadcast chan []byte
}

func newEventHub(logger *zap.Logger) *eventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &eventHub{
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
	}
}

func (h *eventHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *eventHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket 升级失败", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func (h *eventHub) publish(eventType monitor.EventType, payload interface{}) {
	data, err := json.Marshal(monitor.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Warn("序列化推送事件失败", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *eventHub) OnLog(event engine.LogEvent) {
	h.publish(monitor.EventLog, event)
}

func (h *eventHub) OnAlgo(snapshot engine.AlgoSnapshot) {
	h.publish(monitor.EventAlgo, snapshot)
}

func (h *eventHub) OnExposure(data engine.ExposureData) {
	h.publish(monitor.EventExposure, data)
}

func (h *eventHub) OnHolding(data engine.HoldingData) {
	h.publish(monitor.EventHolding, data)
}

// multiSink 把同一份引擎事件分发给多个下游。
type multiSink []engine.EventSink

func (m multiSink) OnLog(event engine.LogEvent) {
	for _, s := range m {
		s.OnLog(event)
	}
}

func (m multiSink) OnAlgo(snapshot engine.AlgoSnapshot) {
	for _, s := range m {
		s.OnAlgo(snapshot)
	}
}

func (m multiSink) OnExposure(data engine.ExposureData) {
	for _, s := range m {
		s.OnExposure(data)
	}
}

func (m multiSink) OnHolding(data engine.HoldingData) {
	for _, s := range m {
		s.OnHolding(data)
	}
}

var (
	_ engine.EventSink = (*eventHub)(nil)
	_ engine.EventSink = (multiSink)(nil)
)
