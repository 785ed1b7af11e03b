package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xtxerr/quarry/internal/errors"
	"github.com/xtxerr/quarry/internal/logging"
)

// RetryPolicy bounds the exponential backoff applied to transient backend
// failures.
type RetryPolicy struct {
	BaseInterval time.Duration
	Multiplier   float64
	MaxInterval  time.Duration
	MaxAttempts  int
}

// DefaultRetryPolicy returns the standard policy: 100 ms base, doubling,
// capped at 2 s, three attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseInterval: 100 * time.Millisecond,
		Multiplier:   2,
		MaxInterval:  2 * time.Second,
		MaxAttempts:  3,
	}
}

// Registry holds an ordered sequence of backends and routes every read
// through them. Transient failures are retried with bounded backoff;
// not-found falls through to the next backend. The backend sequence is
// read-only after construction.
type Registry struct {
	backends []Backend
	retry    RetryPolicy
	log      *slog.Logger
}

// NewRegistry creates a registry over the given backends, tried in order.
func NewRegistry(backends ...Backend) *Registry {
	return &Registry{
		backends: backends,
		retry:    DefaultRetryPolicy(),
		log:      logging.Component("registry"),
	}
}

// WithRetryPolicy overrides the transient-retry policy. Intended for
// construction time only.
func (r *Registry) WithRetryPolicy(p RetryPolicy) *Registry {
	r.retry = p
	return r
}

// Backends returns the ordered backend sequence.
func (r *Registry) Backends() []Backend { return r.backends }

func (r *Registry) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retry.BaseInterval
	bo.Multiplier = r.retry.Multiplier
	bo.MaxInterval = r.retry.MaxInterval
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.retry.MaxAttempts-1)), ctx)
}

// withRetry runs op, retrying transient failures per the policy. Permanent
// errors stop immediately.
func (r *Registry) withRetry(ctx context.Context, b Backend, what string, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.IsTransient(err) && ctx.Err() == nil {
			r.log.Debug("transient backend failure, retrying",
				"backend", b.Name(), "op", what, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, r.newBackOff(ctx))
}

// Open opens the object at path, trying each backend in order. Not-found
// on every backend surfaces as errors.ErrNotFound, which readers absorb as
// an empty partition. Transient failure on every holding backend surfaces
// as BACKEND_UNAVAILABLE.
func (r *Registry) Open(ctx context.Context, path string) (Blob, error) {
	if len(r.backends) == 0 {
		return nil, errors.New(errors.KindBackendUnavailable, "no backends configured")
	}

	sawTransient := false
	var lastErr error
	for _, b := range r.backends {
		var blob Blob
		err := r.withRetry(ctx, b, "open", func() error {
			var openErr error
			blob, openErr = b.Open(ctx, path)
			return openErr
		})
		if err == nil {
			return blob, nil
		}
		if errors.IsNotFound(err) {
			lastErr = err
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		sawTransient = true
		lastErr = err
		r.log.Warn("backend failed, falling back", "backend", b.Name(), "path", path, "error", err)
	}

	if sawTransient {
		return nil, errors.Wrap(errors.KindBackendUnavailable,
			fmt.Sprintf("all backends failed for %s", path), lastErr)
	}
	return nil, fmt.Errorf("%s: %w", path, errors.ErrNotFound)
}

// List returns the union of object paths under prefix across all backends,
// deduplicated and sorted. Backends that fail after retries are skipped
// unless every backend fails, in which case the error surfaces.
func (r *Registry) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	okCount := 0
	var lastErr error
	for _, b := range r.backends {
		var paths []string
		err := r.withRetry(ctx, b, "list", func() error {
			var listErr error
			paths, listErr = b.List(ctx, prefix)
			return listErr
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			r.log.Warn("backend list failed", "backend", b.Name(), "prefix", prefix, "error", err)
			continue
		}
		okCount++
		for _, p := range paths {
			seen[p] = struct{}{}
		}
	}
	if okCount == 0 && lastErr != nil {
		return nil, errors.Wrap(errors.KindBackendUnavailable,
			fmt.Sprintf("listing %s failed on all backends", prefix), lastErr)
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Exists reports whether any backend holds the object at path.
func (r *Registry) Exists(ctx context.Context, path string) (bool, error) {
	var lastErr error
	for _, b := range r.backends {
		var ok bool
		err := r.withRetry(ctx, b, "exists", func() error {
			var exErr error
			ok, exErr = b.Exists(ctx, path)
			return exErr
		})
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, lastErr
}

// Health probes every backend.
func (r *Registry) Health(ctx context.Context) []Health {
	out := make([]Health, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b.Health(ctx))
	}
	return out
}
