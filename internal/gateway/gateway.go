package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/davidahmann/xaidecide/internal/metrics"
)

const (
	DefaultMaxConcurrency = 5
	DefaultTimeout        = 300 * time.Second
)

// FailureKind names why a call produced no usable text.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTimeout   FailureKind = "timeout"
	FailureTransport FailureKind = "transport"
	FailureStatus    FailureKind = "status"
	FailureEmpty     FailureKind = "empty"
)

// Result is the outcome of one model call. Text is only meaningful when
// Failure is FailureNone.
type Result struct {
	Text    string
	Failure FailureKind
	Err     error
}

func (r Result) OK() bool { return r.Failure == FailureNone }

// Backend produces text for a prompt. Implementations honour ctx.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Pinger is implemented by backends that can report availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	MaxConcurrency int64
	Timeout        time.Duration
	Logger         *zap.Logger
}

// Gateway is the single boundary to the text model. It bounds how many calls
// run at once and never returns an error to its callers.
type Gateway struct {
	backend Backend
	sem     *semaphore.Weighted
	timeout time.Duration
	log     *zap.Logger
}

func New(backend Backend, opts Options) *Gateway {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		backend: backend,
		sem:     semaphore.NewWeighted(opts.MaxConcurrency),
		timeout: opts.Timeout,
		log:     log,
	}
}

// Call waits for a concurrency slot and runs the prompt under the call timeout.
func (g *Gateway) Call(ctx context.Context, prompt string) Result {
	start := time.Now()
	res := g.call(ctx, prompt)

	outcome := "ok"
	if !res.OK() {
		outcome = string(res.Failure)
		g.log.Warn("model call failed",
			zap.String("backend", g.backend.Name()),
			zap.String("kind", outcome),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(res.Err),
		)
	}
	metrics.RecordModelCall(g.backend.Name(), outcome, time.Since(start))
	return res
}

// Text collapses Call to the raw text, or "" on any failure.
func (g *Gateway) Text(ctx context.Context, prompt string) string {
	res := g.Call(ctx, prompt)
	if !res.OK() {
		return ""
	}
	return res.Text
}

// Backend returns the backend behind the gateway.
func (g *Gateway) Backend() Backend { return g.backend }

// Health pings the backend when it supports it. It does not take a
// concurrency slot.
func (g *Gateway) Health(ctx context.Context) error {
	p, ok := g.backend.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

func (g *Gateway) call(ctx context.Context, prompt string) Result {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Result{Failure: FailureTimeout, Err: err}
	}
	defer g.sem.Release(1)

	metrics.ModelInFlight.Inc()
	defer metrics.ModelInFlight.Dec()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.backend.Generate(callCtx, prompt)
	if err != nil {
		return Result{Failure: classify(callCtx, err), Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return Result{Failure: FailureEmpty}
	}
	return Result{Text: text}
}

func classify(ctx context.Context, err error) FailureKind {
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return FailureTimeout
	case errors.As(err, &statusErr):
		return FailureStatus
	default:
		return FailureTransport
	}
}
