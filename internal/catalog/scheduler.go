package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/time/rate"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/extract"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/pipeline"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/selfmetrics"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// DefaultTick is how often the scheduler checks for due services.
const DefaultTick = time.Second

var errNoActions = errors.New("all actions disabled")

// Options configures a Scheduler.
type Options struct {
	// Rate caps device calls per second. Zero or negative means unlimited.
	Rate    float64
	Tick    time.Duration
	Metrics *selfmetrics.Metrics
}

// Scheduler polls the services of one source and feeds the extracted
// measurements into the queue. All service state is confined to the
// goroutine calling Run.
type Scheduler struct {
	src      source.Source
	services []*Service
	engine   *extract.Engine
	queue    *pipeline.Queue
	limiter  *rate.Limiter
	tick     time.Duration
	metrics  *selfmetrics.Metrics
	logger   *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewScheduler validates defs and builds a Scheduler polling them through
// src. The source must already be connected.
func NewScheduler(src source.Source, defs []Definition, engine *extract.Engine, queue *pipeline.Queue, opts Options, logger *slog.Logger) (*Scheduler, error) {
	if err := ValidateAll(defs); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}

	s := &Scheduler{
		src:     src,
		engine:  engine,
		queue:   queue,
		limiter: rate.NewLimiter(limit, 1),
		tick:    opts.Tick,
		metrics: opts.Metrics,
		logger:  logger.With("source", src.Name()),
		now:     time.Now,
	}
	for i := range defs {
		def := defs[i]
		s.services = append(s.services, newService(&def, src.MinInterval()))
	}
	return s, nil
}

// Services returns the runtime state of every service in definition order.
func (s *Scheduler) Services() []*Service { return s.services }

// ShouldPoll reports whether svc is available and its interval has elapsed
// since the last successful query.
func (s *Scheduler) ShouldPoll(svc *Service) bool {
	if svc.state != StateAvailable {
		return false
	}
	if svc.lastQuery.IsZero() {
		return true
	}
	return s.now().Sub(svc.lastQuery) >= svc.interval
}

// Run discovers all services and then polls the due ones every tick until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Discover(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Discover probes every undiscovered service and every action once. Services
// and actions the device does not know are disabled permanently. Data
// returned during discovery is enqueued like any other poll.
func (s *Scheduler) Discover(ctx context.Context) error {
	available := 0
	for _, svc := range s.services {
		if svc.state != StateUndiscovered {
			continue
		}
		if err := s.poll(ctx, svc, true); err != nil {
			return err
		}
		if svc.state == StateAvailable {
			available++
		}
	}
	s.logger.Info("catalog: discovery finished",
		"services", len(s.services), "available", available)
	return nil
}

// Poll queries every due service once. It only returns an error when the
// queue push is cancelled.
func (s *Scheduler) Poll(ctx context.Context) error {
	for _, svc := range s.services {
		if !s.ShouldPoll(svc) {
			continue
		}
		if err := s.poll(ctx, svc, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) poll(ctx context.Context, svc *Service, discover bool) error {
	raw, err := s.query(ctx, svc, discover)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if discover {
		s.settle(svc, err)
	}
	s.metrics.Poll(s.src.Name(), svc.Name(), err)

	if err != nil {
		switch {
		case discover && svc.state == StateUnavailable:
			s.logger.Info("catalog: service not supported by device, disabled",
				"service", svc.Name(), "err", err)
		default:
			s.logger.Warn("catalog: query failed, skipping", "service", svc.Name(), "err", err)
		}
		return nil
	}

	if svc.def.Prepare != nil {
		raw, err = svc.def.Prepare(raw)
		if err != nil {
			s.logger.Error("catalog: unable to prepare response", "service", svc.Name(), "err", err)
			return nil
		}
	}
	svc.lastQuery = s.now()

	var out []types.Measurement
	for _, m := range svc.def.Metrics {
		out = append(out, s.engine.Extract(m.Name, m.Node, raw, svc.tracker)...)
	}
	s.metrics.Extracted(s.src.Name(), len(out))
	s.logger.Debug("catalog: service queried", "service", svc.Name(), "measurements", len(out))
	return s.queue.PushAll(ctx, out)
}

// query calls the service. With actions, every enabled action is called and
// the resulting maps are merged. A failing action is logged and skipped so
// its siblings still deliver; the query only fails when no action answered.
// During discovery unknown actions are disabled instead.
func (s *Scheduler) query(ctx context.Context, svc *Service, discover bool) (any, error) {
	if len(svc.actions) == 0 {
		return s.call(ctx, svc.def.Request)
	}

	var (
		merged  = make(map[string]any)
		called  int
		lastErr error
	)
	for _, a := range svc.actions {
		if a.disabled {
			continue
		}
		req := svc.def.Request
		req.Action = a.Name
		req.Params = a.Params

		out, err := s.call(ctx, req)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, source.ErrUnknownService):
			return nil, err
		case err != nil && discover && errors.Is(err, source.ErrUnknownAction):
			svc.disableAction(a.Name)
			s.logger.Info("catalog: action not supported by device, disabled",
				"service", svc.Name(), "action", a.Name)
			continue
		case err != nil:
			s.logger.Warn("catalog: action failed, skipping",
				"service", svc.Name(), "action", a.Name, "err", err)
			lastErr = err
			continue
		}
		called++
		if m, ok := out.(map[string]any); ok {
			maps.Copy(merged, m)
		}
	}
	switch {
	case called > 0:
		return merged, nil
	case lastErr != nil:
		return nil, fmt.Errorf("%s: %w", svc.Name(), lastErr)
	}
	return nil, fmt.Errorf("%s: %w", svc.Name(), errNoActions)
}

func (s *Scheduler) call(ctx context.Context, req source.Request) (any, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.src.Call(ctx, req)
}

// settle moves svc out of the undiscovered state after its first query.
func (s *Scheduler) settle(svc *Service, err error) {
	switch {
	case errors.Is(err, source.ErrUnknownService):
		svc.state = StateUnavailable
	case len(svc.actions) > 0 && svc.enabledActions() == 0:
		svc.state = StateUnavailable
	case len(svc.actions) == 0 && source.IsCapability(err):
		svc.state = StateUnavailable
	default:
		svc.state = StateAvailable
	}
	s.metrics.ServiceAvailable(s.src.Name(), svc.Name(), svc.state == StateAvailable)
}
