package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/breaker"
)

// Chunk is one increment of a streaming response. A Chunk with a non-nil
// Err is the terminal marker of an aborted stream; a stream that ends
// without one completed normally.
type Chunk struct {
	Data []byte
	Err  error
}

// ChunkStream yields response chunks as the dependency produces them.
// Next returns io.EOF when the stream completed normally.
type ChunkStream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamFunc opens one attempt against the dependency. The supervisor calls
// it once per admitted attempt with a context that carries both the hard
// timeout and caller cancellation.
type StreamFunc func(ctx context.Context) (ChunkStream, error)

// RequestSpec describes one top-level streaming call.
type RequestSpec struct {
	// Dependency names the breaker the call is admitted through.
	Dependency string

	// Open issues the call. It must honor context cancellation.
	Open StreamFunc

	// Fallback, when non-empty, is delivered as the sole chunk if the
	// circuit rejects the call before any output was produced.
	Fallback string
}

// Config holds the retry policy shared by all calls through a supervisor.
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}

	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}

	return c
}

// Supervisor runs streaming calls through the registry's breakers.
type Supervisor struct {
	registry *breaker.Registry
	cfg      Config
}

func New(registry *breaker.Registry, cfg Config) *Supervisor {
	return &Supervisor{registry: registry, cfg: cfg.withDefaults()}
}

// Execute starts the call and returns its chunk sequence. The channel is
// closed when the stream ends, after the terminal error marker if the
// stream aborted. Cancelling ctx stops delivery immediately.
func (s *Supervisor) Execute(ctx context.Context, spec RequestSpec) <-chan Chunk {
	out := make(chan Chunk)

	go s.run(ctx, spec, out)

	return out
}

func (s *Supervisor) run(ctx context.Context, spec RequestSpec, out chan<- Chunk) {
	defer close(out)

	cb := s.registry.GetBreaker(spec.Dependency)

	for attempt := 1; ; attempt++ {
		delivered, err := s.attempt(ctx, cb, spec, out)
		if err == nil {
			return
		}

		// Mid-stream failure: the caller already has partial output, so
		// surface the abort instead of retrying into duplication.
		if delivered > 0 {
			emit(ctx, out, Chunk{Err: err})
			return
		}

		if breaker.IsOpen(err) {
			if spec.Fallback != "" {
				emit(ctx, out, Chunk{Data: []byte(spec.Fallback)})
				return
			}

			emit(ctx, out, Chunk{Err: err})

			return
		}

		if !Transient(err) || attempt > s.cfg.MaxRetries {
			emit(ctx, out, Chunk{Err: err})
			return
		}

		delay := backoffDelay(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, attempt)
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return
		}
	}
}

// attempt makes one admitted pass at the dependency, forwarding chunks as
// they arrive. It settles the breaker permit exactly once and returns how
// many chunks reached the caller.
func (s *Supervisor) attempt(ctx context.Context, cb *breaker.CircuitBreaker, spec RequestSpec, out chan<- Chunk) (int, error) {
	permit, err := cb.Admit()
	if err != nil {
		return 0, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, cb.Timeout())
	defer cancel()

	stream, err := spec.Open(attemptCtx)
	if err != nil {
		err = s.classify(attemptCtx, ctx, cb.Name(), err)
		permit.Record(err)

		return 0, err
	}
	defer stream.Close()

	delivered := 0

	for {
		data, nextErr := stream.Next(attemptCtx)
		if nextErr != nil {
			if errors.Is(nextErr, io.EOF) {
				permit.Record(nil)
				return delivered, nil
			}

			nextErr = s.classify(attemptCtx, ctx, cb.Name(), nextErr)
			permit.Record(nextErr)

			return delivered, nextErr
		}

		if !emit(ctx, out, Chunk{Data: data}) {
			// Caller went away; the dependency did nothing wrong.
			permit.Record(context.Canceled)
			return delivered, context.Canceled
		}

		delivered++
	}
}

// classify distinguishes the supervisor's own timeout from a caller abort.
// Both surface as context errors from the attempt context, but only the
// timeout counts against the dependency.
func (s *Supervisor) classify(attemptCtx, callerCtx context.Context, dependency string, err error) error {
	if callerCtx.Err() != nil {
		return context.Canceled
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("dependency %q stream timed out: %w", dependency, context.DeadlineExceeded)
	}

	return err
}

// emit forwards one chunk, giving up if the caller's context ends first.
func emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
