package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps documents as RedisJSON values and sets as native Redis sets.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, unavailable(err)
	}
	return &RedisStore{Client: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.Client.Do(ctx, commandArgs(Get(key))...).Text()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, classifyRedis(err)
	}
	return []byte(raw), true, nil
}

func (s *RedisStore) SetWhole(ctx context.Context, key string, document []byte) error {
	if err := validateDocument(document); err != nil {
		return err
	}
	return classifyRedis(s.Client.Do(ctx, commandArgs(SetWhole(key, document))...).Err())
}

func (s *RedisStore) AppendToArray(ctx context.Context, key string, field string, value []byte) error {
	op := Append(key, field, value)
	if err := validateOperation(op); err != nil {
		return err
	}
	cmd := s.Client.Do(ctx, commandArgs(op)...)
	if err := cmd.Err(); err != nil {
		return s.appendError(ctx, key, err)
	}
	return arrayAppendReply(cmd, key, field)
}

// arrayAppendReply inspects the per-path reply of JSON.ARRAPPEND. A path that matched
// nothing yields an empty reply and a non-array value a nil element; both leave the
// document unchanged.
func arrayAppendReply(cmd *redis.Cmd, key string, field string) error {
	reply, err := cmd.Slice()
	if err != nil {
		return err
	}
	if len(reply) == 0 {
		return fmt.Errorf("%w: %s.%s", ErrNotArray, key, field)
	}
	for _, length := range reply {
		if length == nil {
			return fmt.Errorf("%w: %s.%s", ErrNotArray, key, field)
		}
	}
	return nil
}

// RedisJSON reports a missing key on ARRAPPEND as a generic error, so the key is checked
// only once the append has already failed.
func (s *RedisStore) appendError(ctx context.Context, key string, err error) error {
	if err == redis.Nil {
		return fmt.Errorf("%w: %s", ErrNoDocument, key)
	}
	var replyErr redis.Error
	if !errors.As(err, &replyErr) {
		return unavailable(err)
	}
	exists, existsErr := s.Client.Exists(ctx, key).Result()
	if existsErr != nil {
		return classifyRedis(existsErr)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNoDocument, key)
	}
	return err
}

// Batch sends ops in one pipeline. Atomic batches are wrapped in MULTI/EXEC. Redis
// discards a transaction whose commands fail to queue, but a command failing at EXEC
// time leaves the others applied; that case is reported as ErrPartialBatchFailure.
func (s *RedisStore) Batch(ctx context.Context, ops []Operation, atomic bool) ([]Result, error) {
	for _, op := range ops {
		if err := validateOperation(op); err != nil {
			return nil, err
		}
	}
	if len(ops) == 0 {
		return []Result{}, nil
	}

	var pipe redis.Pipeliner
	if atomic {
		pipe = s.Client.TxPipeline()
	} else {
		pipe = s.Client.Pipeline()
	}
	cmds := make([]*redis.Cmd, len(ops))
	for index, op := range ops {
		cmds[index] = pipe.Do(ctx, commandArgs(op)...)
	}
	_, execErr := pipe.Exec(ctx)
	if execErr != nil && execErr != redis.Nil {
		var replyErr redis.Error
		if !errors.As(execErr, &replyErr) {
			return nil, unavailable(execErr)
		}
		if atomic && isTransactionAborted(execErr) {
			return nil, fmt.Errorf("store: batch rejected: %w", execErr)
		}
	}

	results := make([]Result, len(ops))
	failed := 0
	applied := 0
	for index, op := range ops {
		results[index] = redisResult(op, cmds[index])
		if results[index].Err != nil {
			failed++
			continue
		}
		if op.writes() {
			applied++
		}
	}
	if atomic && failed > 0 {
		if applied > 0 {
			return results, fmt.Errorf("%w: %d of %d operations failed", ErrPartialBatchFailure, failed, len(ops))
		}
		return nil, fmt.Errorf("store: batch rejected: %d of %d operations failed", failed, len(ops))
	}
	return results, nil
}

func (s *RedisStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	iter := s.Client.Scan(ctx, 0, escapeGlob(prefix)+"*", 1000).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, classifyRedis(err)
	}
	// SCAN may return a key more than once.
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) SetAdd(ctx context.Context, key string, member string) (bool, error) {
	added, err := s.Client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, classifyRedis(err)
	}
	return added == 1, nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.Client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, classifyRedis(err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

func commandArgs(op Operation) []any {
	switch op.Kind {
	case OpGet:
		return []any{"JSON.GET", op.Key}
	case OpSetWhole:
		return []any{"JSON.SET", op.Key, "$", string(op.Value)}
	case OpAppend:
		return []any{"JSON.ARRAPPEND", op.Key, "$." + op.Field, string(op.Value)}
	case OpSetAdd:
		return []any{"SADD", op.Key, string(op.Value)}
	default:
		return nil
	}
}

func redisResult(op Operation, cmd *redis.Cmd) Result {
	err := cmd.Err()
	switch op.Kind {
	case OpGet:
		if err == redis.Nil {
			return Result{}
		}
		if err != nil {
			return Result{Err: err}
		}
		raw, err := cmd.Text()
		if err != nil {
			return Result{Err: err}
		}
		return Result{Document: []byte(raw), Found: true}
	case OpSetAdd:
		if err != nil {
			return Result{Err: err}
		}
		added, err := cmd.Int64()
		if err != nil {
			return Result{Err: err}
		}
		return Result{Added: added == 1}
	case OpAppend:
		if err == redis.Nil {
			return Result{Err: fmt.Errorf("%w: %s", ErrNoDocument, op.Key)}
		}
		if err != nil {
			return Result{Err: err}
		}
		return Result{Err: arrayAppendReply(cmd, op.Key, op.Field)}
	default:
		return Result{Err: err}
	}
}

func isTransactionAborted(err error) bool {
	return strings.HasPrefix(err.Error(), "EXECABORT")
}

func classifyRedis(err error) error {
	if err == nil {
		return nil
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return err
	}
	return unavailable(err)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(prefix string) string {
	return globEscaper.Replace(prefix)
}
