package embedder

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Resilient wraps a Provider with a per-call timeout and a single backoff
// retry. Validation failures are not retried; only calls that error after
// the full timeout-retry cycle surface to the caller, at which point the
// caller decides between degraded reads and hard write failure.
type Resilient struct {
	inner   Provider
	timeout time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

// NewResilient wraps the given provider. A zero timeout defaults to 10s,
// a zero backoff to 500ms. A nil logger is replaced with a no-op logger.
func NewResilient(inner Provider, timeout, backoff time.Duration, logger *zap.Logger) *Resilient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{inner: inner, timeout: timeout, backoff: backoff, logger: logger}
}

// Embed calls the inner provider with a timeout, retrying once.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float64, error) {
	var out []float64
	err := r.withRetry(ctx, "embed", func(callCtx context.Context) error {
		var innerErr error
		out, innerErr = r.inner.Embed(callCtx, text)
		return innerErr
	})
	return out, err
}

// EmbedBatch calls the inner provider with a timeout, retrying once.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	var out [][]float64
	err := r.withRetry(ctx, "embed_batch", func(callCtx context.Context) error {
		var innerErr error
		out, innerErr = r.inner.EmbedBatch(callCtx, texts)
		return innerErr
	})
	return out, err
}

// Dimensions returns the inner provider's vector dimension.
func (r *Resilient) Dimensions() int {
	return r.inner.Dimensions()
}

// Close closes the inner provider.
func (r *Resilient) Close() error {
	return r.inner.Close()
}

func (r *Resilient) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err := call(callCtx)
	cancel()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// The caller's context expired; retrying cannot help.
		return err
	}

	r.logger.Warn("embedding call failed, retrying once",
		zap.String("op", op),
		zap.Duration("backoff", r.backoff),
		zap.Error(err),
	)

	select {
	case <-time.After(r.backoff):
	case <-ctx.Done():
		return ctx.Err()
	}

	callCtx, cancel = context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return call(callCtx)
}
