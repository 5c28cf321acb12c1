package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingStore struct {
	Store
}

func (blockingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func (blockingStore) Batch(ctx context.Context, ops []Operation, atomic bool) ([]Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBoundedMapsDeadlineToUnavailable(t *testing.T) {
	bounded := NewBounded(blockingStore{}, "test", 10*time.Millisecond)

	_, _, err := bounded.Get(context.Background(), "user:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = bounded.Batch(context.Background(), []Operation{Get("user:1")}, true)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestBoundedPassesThroughResults(t *testing.T) {
	bounded := NewBounded(newTestSQLiteStore(t), BackendSQLite, 0)
	assert.Equal(t, DefaultTimeout, bounded.timeout)

	ctx := context.Background()
	require.NoError(t, bounded.SetWhole(ctx, "user:1", []byte(`{"discord_id":"1","offences":[]}`)))
	err := bounded.AppendToArray(ctx, "user:2", "offences", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoDocument)
	assert.False(t, errors.Is(err, ErrStoreUnavailable))

	document, found, err := bounded.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"discord_id":"1","offences":[]}`, string(document))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "unavailable", errorKind(unavailable(errors.New("dial"))))
	assert.Equal(t, "partial_batch", errorKind(ErrPartialBatchFailure))
	assert.Equal(t, "no_document", errorKind(ErrNoDocument))
	assert.Equal(t, "not_array", errorKind(ErrNotArray))
	assert.Equal(t, "other", errorKind(errors.New("boom")))
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "etcd"}, nil)
	assert.Error(t, err)
}

func TestOpenSQLiteBackend(t *testing.T) {
	opened, err := Open(context.Background(), Config{Backend: BackendSQLite, SQLitePath: t.TempDir() + "/open.db"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = opened.Close() })
	_, ok := opened.(*Bounded)
	assert.True(t, ok)
}
