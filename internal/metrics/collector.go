package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventAdmitted     EventType = "request_admitted"
	EventRejected     EventType = "request_rejected"
	EventCompleted    EventType = "call_completed"
	EventStateChanged EventType = "state_changed"
)

type Event struct {
	Type       EventType
	Timestamp  time.Time
	Dependency string
	Reason     string // rejection reason for EventRejected
	Duration   time.Duration
	Success    bool
	Slow       bool
	State      string // new breaker state for EventStateChanged
}

type Collector struct {
	eventCh chan Event
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan Event, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit sends the event without blocking; under backpressure the event is
// dropped.
func (c *Collector) Emit(event Event) {
	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event Event) {
	switch event.Type {
	case EventAdmitted:
		c.metrics.RecordAdmission(event.Dependency)

	case EventRejected:
		c.metrics.RecordRejection(event.Dependency, event.Reason)

	case EventCompleted:
		c.metrics.RecordCompletion(event.Dependency, event.Duration, event.Success, event.Slow)

	case EventStateChanged:
		c.metrics.RecordStateChange(event.Dependency, event.State)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
