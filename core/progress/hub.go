// Package progress fans commit progress out to websocket subscribers.
package progress

import (
	"encoding/json"
	"sync"
	"time"

	"labelpanel/logger"
)

// State 提交流程状态
type State string

const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StatePerTrackUpload State = "per_track_upload"
	StatePersisting     State = "persisting"
	StateAppending      State = "appending"
	StateCommitted      State = "committed"
	StateRollingBack    State = "rolling_back"
	StateFailed         State = "failed"
)

// Event is one progress notification for a staging session.
type Event struct {
	SessionID string `json:"sessionId"`
	State     State  `json:"state"`
	Track     string `json:"track,omitempty"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ev Event)
}

// Subscriber receives the encoded events of one session.
type Subscriber struct {
	SessionID string
	Send      chan []byte
	closeOnce sync.Once
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.Send) })
}

const (
	broadcastBuffer  = 256
	subscriberBuffer = 32
)

// Hub 进度事件分发中心
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Subscriber]struct{}

	broadcast chan Event
	done      chan struct{}
	stopOnce  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		sessions:  make(map[string]map[*Subscriber]struct{}),
		broadcast: make(chan Event, broadcastBuffer),
		done:      make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case ev := <-h.broadcast:
			h.deliver(ev)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish queues ev; when the queue is full the event is dropped.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	select {
	case h.broadcast <- ev:
	default:
		logger.Warn("progress queue full, dropping event",
			logger.String("sessionId", ev.SessionID),
			logger.String("state", string(ev.State)))
	}
}

func (h *Hub) Subscribe(sessionID string) *Subscriber {
	s := &Subscriber{SessionID: sessionID, Send: make(chan []byte, subscriberBuffer)}

	h.mu.Lock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*Subscriber]struct{})
	}
	h.sessions[sessionID][s] = struct{}{}
	h.mu.Unlock()

	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.sessions[s.SessionID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.sessions, s.SessionID)
		}
	}
	h.mu.Unlock()
	s.close()
}

// SubscriberCount 返回某个 session 的订阅数
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to encode progress event", logger.ErrorField(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[ev.SessionID] {
		select {
		case s.Send <- data:
		default:
			// 慢消费者，丢弃
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, subs := range h.sessions {
		for s := range subs {
			s.close()
		}
		delete(h.sessions, id)
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
