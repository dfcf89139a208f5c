package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/campusgate/pkg/logger"
	"github.com/charlesng35/campusgate/pkg/metrics"
)

const defaultQueueSize = 256

// Publisher accepts monitoring events without ever blocking the caller.
type Publisher interface {
	Publish(event string, payload any)
}

// BroadcasterOptions configure a Broadcaster.
type BroadcasterOptions struct {
	Room      string
	QueueSize int
	Metrics   *metrics.Metrics
}

// Broadcaster queues events for a room and delivers them from a single goroutine.
// Delivery is best effort: a full queue drops the event.
type Broadcaster struct {
	hub     *Hub
	room    string
	queue   chan Message
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewBroadcaster starts a broadcaster delivering to hub.
func NewBroadcaster(hub *Hub, opts BroadcasterOptions) *Broadcaster {
	if opts.Room == "" {
		opts.Room = RoomSOCMonitoring
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	b := &Broadcaster{
		hub:     hub,
		room:    normalizeRoom(opts.Room),
		queue:   make(chan Message, opts.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		metrics: opts.Metrics,
		log:     logger.WithModule("broadcaster"),
	}
	go b.run()
	return b
}

// Room returns the room events are delivered to.
func (b *Broadcaster) Room() string {
	return b.room
}

// Publish enqueues an event for delivery.
func (b *Broadcaster) Publish(event string, payload any) {
	if b == nil {
		return
	}
	message := Message{Room: b.room, Event: event, Data: payload}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- message:
	default:
		b.metrics.ObserveBroadcastDropped()
		b.log.Warn("broadcast queue full, dropping event", zap.String("event", event))
	}
}

// Close stops delivery. Queued events that were not yet delivered are discarded.
func (b *Broadcaster) Close() {
	if b == nil {
		return
	}
	b.once.Do(func() { close(b.done) })
	<-b.stopped
}

func (b *Broadcaster) run() {
	defer close(b.stopped)
	for {
		select {
		case <-b.done:
			return
		case message := <-b.queue:
			if b.hub != nil {
				b.hub.BroadcastRoom(b.room, message)
			}
		}
	}
}
