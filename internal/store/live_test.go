package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Live backends are exercised only when a server is provided, e.g.
// MODLEDGER_TEST_REDIS_URL=redis://localhost:6379/0 (requires the RedisJSON module).

func TestRedisStoreConformance(t *testing.T) {
	redisURL := os.Getenv("MODLEDGER_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("MODLEDGER_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, redisURL)
	require.NoError(t, err)
	ns := "test-" + uuid.NewString() + "/"
	t.Cleanup(func() {
		keys, _ := s.ListKeys(ctx, ns)
		if len(keys) > 0 {
			s.Client.Del(ctx, keys...)
		}
		s.Client.Del(ctx, ns+"kick-whitelist")
		_ = s.Close()
	})
	exerciseStore(t, s, ns)
}

func TestRedisAtomicBatchWithFailingCommandIsPartial(t *testing.T) {
	redisURL := os.Getenv("MODLEDGER_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("MODLEDGER_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, redisURL)
	require.NoError(t, err)
	ns := "test-" + uuid.NewString() + "/"
	t.Cleanup(func() {
		s.Client.Del(ctx, ns+"user:1")
		_ = s.Close()
	})

	results, err := s.Batch(ctx, []Operation{
		SetWhole(ns+"user:1", []byte(`{"discord_id":"1","offences":[]}`)),
		Append(ns+"user:missing", "offences", []byte(`{}`)),
	}, true)
	require.ErrorIs(t, err, ErrPartialBatchFailure)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
}

func TestMongoStoreConformance(t *testing.T) {
	mongoURI := os.Getenv("MODLEDGER_TEST_MONGO_URI")
	if mongoURI == "" {
		t.Skip("MODLEDGER_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := "modledger_test_" + uuid.NewString()[:8]
	s, err := NewMongoStore(ctx, mongoURI, dbName)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.documents.Database().Drop(ctx)
		_ = s.Close()
	})
	exerciseStore(t, s, "")
}
