package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/coordinator"
	"github.com/lgscvb/line-webhook-gateway/internal/domain"
	"github.com/lgscvb/line-webhook-gateway/internal/forwarder"
	"github.com/lgscvb/line-webhook-gateway/internal/metrics"
	"github.com/lgscvb/line-webhook-gateway/internal/router"
)

const (
	enqueueTimeout = 10 * time.Second
	// processTimeout bounds one event end to end: forward retries plus the
	// reply call. Generous next to the 10s forward timeout.
	processTimeout = 90 * time.Second
	storeTimeout   = 5 * time.Second
)

// pendingEvent is one verified event waiting for a worker, together with the
// original webhook call it arrived in (needed verbatim for delegation).
type pendingEvent struct {
	event   domain.InboundEvent
	rawBody []byte
	headers http.Header
}

// PipelineConfig wires the event pipeline.
type PipelineConfig struct {
	Mode     domain.ReplyMode
	Router   *router.Router
	Forward  *forwarder.Forwarder
	Coord    *coordinator.Coordinator
	Store    domain.EventStore
	Notifier domain.Notifier
	Metrics  metrics.Metrics
	Workers  int
	QueueLen int
	Logger   *slog.Logger
}

// Pipeline processes verified events on a bounded worker pool. The webhook
// handler enqueues and acks; workers do the store write, routing, forwarding,
// and reply coordination.
type Pipeline struct {
	mode     domain.ReplyMode
	router   *router.Router
	forward  *forwarder.Forwarder
	coord    *coordinator.Coordinator
	store    domain.EventStore
	notifier domain.Notifier
	metrics  metrics.Metrics
	queue    chan pendingEvent
	workers  int
	logger   *slog.Logger

	wg     sync.WaitGroup
	closed bool
	mu     sync.RWMutex
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 256
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifyNoop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Pipeline{
		mode:     cfg.Mode,
		router:   cfg.Router,
		forward:  cfg.Forward,
		coord:    cfg.Coord,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		queue:    make(chan pendingEvent, cfg.QueueLen),
		workers:  cfg.Workers,
		logger:   cfg.Logger,
	}
}

type notifyNoop struct{}

func (notifyNoop) HighValueAlert(context.Context, string, string, string) error { return nil }

// Start launches the worker pool. Close is the only stop signal: an acked
// event is never redelivered by the platform, so workers keep draining the
// queue until it is closed and empty.
func (p *Pipeline) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for pe := range p.queue {
				p.process(pe)
			}
		}()
	}
}

// Enqueue hands one verified event to the pool. Blocks briefly when the
// queue is full instead of dropping: losing an event loses audit data and
// leaves a user without a reply.
func (p *Pipeline) Enqueue(ev domain.InboundEvent, rawBody []byte, headers http.Header) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("pipeline closed, event dropped", "event_id", ev.EventID)
		return
	}

	pe := pendingEvent{event: ev, rawBody: rawBody, headers: headers}
	select {
	case p.queue <- pe:
	default:
		p.logger.Warn("event queue full, waiting", "event_id", ev.EventID)
		timer := time.NewTimer(enqueueTimeout)
		defer timer.Stop()
		select {
		case p.queue <- pe:
		case <-timer.C:
			p.logger.Error("event dropped: queue full", "event_id", ev.EventID, "user_id", ev.UserID)
		}
	}
}

// process runs one event through route -> store -> alert -> forward -> reply.
func (p *Pipeline) process(pe pendingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	ev := pe.event
	decision := p.router.Classify(&ev)
	p.metrics.IncRouted(string(decision.Destination))
	p.logger.Info("event routed",
		"event_id", ev.EventID,
		"user_id", ev.UserID,
		"type", ev.Type,
		"destination", decision.Destination,
		"high_value", decision.IsHighValue,
		"reason", decision.Reason,
	)

	// Audit write runs detached: a slow or failed store must never delay
	// the user-facing reply.
	recorded := p.recordAsync(&ev, decision)

	if decision.IsHighValue {
		p.metrics.IncHighValue()
		p.alertAsync(&ev, decision)
	}

	if decision.Destination == domain.DestinationNone {
		return
	}
	if !ev.ReplyEligible() {
		// No reply channel exists for this event; it is recorded and dropped.
		p.logger.Debug("event has no reply token, dropped after recording", "event_id", ev.EventID)
		return
	}

	resolution := p.coord.Resolve(ctx, &ev, func(ctx context.Context) domain.BackendResult {
		start := time.Now()
		result := p.forward.Forward(ctx, &ev, decision, pe.rawBody, pe.headers)
		p.metrics.ObserveForwardDuration(string(p.mode), time.Since(start).Seconds())
		p.metrics.IncForwardResult(string(p.mode), string(result.Status))
		return result
	})

	if resolution.Duplicate {
		p.metrics.IncDuplicatesSuppressed()
		return
	}
	if resolution.Intent.Delivered {
		p.metrics.IncRepliesSent(string(resolution.Intent.Source))
		p.attachAsync(recorded, ev.EventID, resolution.Intent.Text, string(resolution.Intent.Source))
	}
	p.logger.Info("event settled",
		"event_id", ev.EventID,
		"state", resolution.State,
		"source", resolution.Intent.Source,
		"delivered", resolution.Intent.Delivered,
	)
}

// recordAsync writes the audit row off the worker's path. The returned
// channel closes when the write has finished, so later writes to the same
// row can be sequenced behind it.
func (p *Pipeline) recordAsync(ev *domain.InboundEvent, decision domain.RoutingDecision) <-chan struct{} {
	done := make(chan struct{})
	if p.store == nil {
		close(done)
		return done
	}
	rec := &domain.DeliveryRecord{
		EventID:     ev.EventID,
		UserID:      ev.UserID,
		EventType:   ev.Type,
		MessageType: ev.MessageType,
		Text:        ev.Text,
		ReplyToken:  ev.ReplyToken,
		RawEvent:    ev.Raw,
		Destination: string(decision.Destination),
		RouteReason: decision.Reason,
		ReceivedAt:  ev.ReceivedAt,
	}
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := p.store.Record(ctx, rec); err != nil {
			p.logger.Error("store write failed", "event_id", rec.EventID, "error", err)
		}
	}()
	return done
}

// attachAsync records the delivered reply on the audit row, after the record
// write for the same event has landed. A reply attached before its row exists
// would update nothing and be lost.
func (p *Pipeline) attachAsync(recorded <-chan struct{}, eventID, text, source string) {
	if p.store == nil {
		return
	}
	go func() {
		select {
		case <-recorded:
		case <-time.After(storeTimeout):
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := p.store.AttachReply(ctx, eventID, text, source); err != nil {
			p.logger.Warn("attach reply failed", "event_id", eventID, "error", err)
		}
	}()
}

func (p *Pipeline) alertAsync(ev *domain.InboundEvent, decision domain.RoutingDecision) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := p.notifier.HighValueAlert(ctx, ev.UserID, ev.Text, decision.MatchedKeyword); err != nil {
			p.logger.Error("high-value alert failed", "event_id", ev.EventID, "error", err)
		}
	}()
}

// Close stops accepting events and waits for workers to finish in-flight work.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
