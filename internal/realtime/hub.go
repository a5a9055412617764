// Package realtime fans committed table changes out to per-view subscriptions.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// EventType is the kind of row change
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// Event is one committed row change. Record is the row as stored without joined relations
// and without large text columns, RowID is its "id".
type Event struct {
	Type      EventType       `json:"type"`
	Table     string          `json:"table"`
	ProjectID string          `json:"project_id"`
	RowID     string          `json:"row_id"`
	Record    json.RawMessage `json:"record"`
}

// Filter selects events for a subscription. Empty fields match anything.
type Filter struct {
	Event     EventType
	Table     string
	ProjectID string
}

// Match reports whether e passes the filter
func (f Filter) Match(e Event) bool {
	if f.Event != "" && f.Event != e.Type {
		return false
	}
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	if f.ProjectID != "" && f.ProjectID != e.ProjectID {
		return false
	}
	return true
}

// Handler is called for every matching event, sequentially per subscription
type Handler func(Event)

var ErrMalformedNotification = errors.New("malformed change notification")

// Hub is an in-memory fan-out of change events to subscriptions.
// Publishing never blocks: a subscription whose queue is full drops the event.
type Hub struct {
	logger  *zap.SugaredLogger
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	bufSize int
	parsers fastjson.ParserPool
}

// NewHub creates a hub; bufSize is the per-subscription queue length
func NewHub(logger *zap.SugaredLogger, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{
		logger:  logger,
		subs:    make(map[uint64]*Subscription),
		bufSize: bufSize,
	}
}

// Subscribe registers handler for events matching filter under the given channel name.
// The returned Subscription must be closed to release it.
func (h *Hub) Subscribe(channel string, filter Filter, handler Handler) *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := &Subscription{
		hub:     h,
		id:      h.nextID,
		channel: channel,
		filter:  filter,
		handler: handler,
		queue:   make(chan Event, h.bufSize),
		quit:    make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.deliver()

	h.logger.Debugf("Opened subscription %q (id: %d)", channel, sub.id)

	return sub
}

// Publish delivers e to every matching subscription
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	matched := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.filter.Match(e) {
			matched = append(matched, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range matched {
		select {
		case sub.queue <- e:
		case <-sub.quit:
		default:
			h.logger.Warnf("Dropping %s event on %s for slow subscription %q", e.Type, e.Table, sub.channel)
		}
	}
}

// PublishNotification decodes a notify_table_change payload
// ({"table": ..., "type": ..., "record": {...}}) and publishes it
func (h *Hub) PublishNotification(payload []byte) error {
	parser := h.parsers.Get()
	defer h.parsers.Put(parser)

	v, err := parser.ParseBytes(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	record := v.Get("record")
	if record == nil || record.Type() != fastjson.TypeObject {
		return fmt.Errorf("%w: missing record", ErrMalformedNotification)
	}

	e := Event{
		Type:      EventType(v.GetStringBytes("type")),
		Table:     string(v.GetStringBytes("table")),
		ProjectID: string(record.GetStringBytes("project_id")),
		RowID:     string(record.GetStringBytes("id")),
		Record:    json.RawMessage(record.MarshalTo(nil)),
	}
	if e.Type == "" || e.Table == "" {
		return fmt.Errorf("%w: missing type or table", ErrMalformedNotification)
	}

	h.Publish(e)
	return nil
}

// Count returns the number of open subscriptions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
}

// Subscription is one open change stream
type Subscription struct {
	hub     *Hub
	id      uint64
	channel string
	filter  Filter
	handler Handler
	queue   chan Event
	quit    chan struct{}
	once    sync.Once
}

// Channel returns the name the subscription was opened with
func (s *Subscription) Channel() string {
	return s.channel
}

// Close unsubscribes. It is safe to call more than once; only the first call has effect.
// Events already queued are discarded.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.quit)
		s.hub.logger.Debugf("Closed subscription %q (id: %d)", s.channel, s.id)
	})
	return nil
}

func (s *Subscription) deliver() {
	for {
		select {
		case <-s.quit:
			return
		case e := <-s.queue:
			select {
			case <-s.quit:
				return
			default:
			}
			s.handler(e)
		}
	}
}
