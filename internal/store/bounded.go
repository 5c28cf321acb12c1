package store

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds every store call unless configured otherwise.
const DefaultTimeout = 5 * time.Second

// Bounded decorates a Store with a per-call timeout. A call that does not finish in
// time fails with ErrStoreUnavailable.
type Bounded struct {
	inner   Store
	backend string
	timeout time.Duration
}

// NewBounded wraps inner. A non-positive timeout selects DefaultTimeout.
func NewBounded(inner Store, backend string, timeout time.Duration) *Bounded {
	return &Bounded{inner: inner, backend: backend, timeout: effectiveTimeout(timeout)}
}

func effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

func (b *Bounded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		document []byte
		found    bool
	)
	err := b.call(ctx, "get", func(callCtx context.Context) error {
		var err error
		document, found, err = b.inner.Get(callCtx, key)
		return err
	})
	return document, found, err
}

func (b *Bounded) SetWhole(ctx context.Context, key string, document []byte) error {
	return b.call(ctx, "set_whole", func(callCtx context.Context) error {
		return b.inner.SetWhole(callCtx, key, document)
	})
}

func (b *Bounded) AppendToArray(ctx context.Context, key string, field string, value []byte) error {
	return b.call(ctx, "append", func(callCtx context.Context) error {
		return b.inner.AppendToArray(callCtx, key, field, value)
	})
}

func (b *Bounded) Batch(ctx context.Context, ops []Operation, atomic bool) ([]Result, error) {
	var results []Result
	err := b.call(ctx, "batch", func(callCtx context.Context) error {
		var err error
		results, err = b.inner.Batch(callCtx, ops, atomic)
		return err
	})
	return results, err
}

func (b *Bounded) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.call(ctx, "list_keys", func(callCtx context.Context) error {
		var err error
		keys, err = b.inner.ListKeys(callCtx, prefix)
		return err
	})
	return keys, err
}

func (b *Bounded) SetAdd(ctx context.Context, key string, member string) (bool, error) {
	var added bool
	err := b.call(ctx, "set_add", func(callCtx context.Context) error {
		var err error
		added, err = b.inner.SetAdd(callCtx, key, member)
		return err
	})
	return added, err
}

func (b *Bounded) SetMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := b.call(ctx, "set_members", func(callCtx context.Context) error {
		var err error
		members, err = b.inner.SetMembers(callCtx, key)
		return err
	})
	return members, err
}

func (b *Bounded) Close() error {
	return b.inner.Close()
}

func (b *Bounded) call(ctx context.Context, name string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	started := time.Now()
	err := fn(callCtx)
	storeCallDuration.WithLabelValues(b.backend, name).Observe(time.Since(started).Seconds())
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		err = unavailable(err)
	}
	storeCallErrors.WithLabelValues(b.backend, name, errorKind(err)).Inc()
	return err
}
