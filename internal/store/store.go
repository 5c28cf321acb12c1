package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrStoreUnavailable indicates the store could not be reached or did not answer in time.
	// Callers may retry.
	ErrStoreUnavailable = errors.New("store: unavailable")
	// ErrPartialBatchFailure indicates an atomic batch whose effects were only partly applied.
	ErrPartialBatchFailure = errors.New("store: atomic batch partially applied")
	// ErrNoDocument indicates an in-place update against a key that holds no document.
	ErrNoDocument = errors.New("store: no document")
	// ErrInvalidDocument indicates a document or value that is not valid JSON.
	ErrInvalidDocument = errors.New("store: invalid document")
	// ErrNotArray indicates an append whose target field exists in the document but is not an array,
	// or is missing from it.
	ErrNotArray = errors.New("store: field is not an array")
	// ErrInvalidField indicates an array field name that cannot be addressed as a top-level path.
	ErrInvalidField = errors.New("store: invalid field")
)

// Store is a key-value document store holding JSON documents and string sets.
type Store interface {
	// Get returns the document under key. A missing key yields (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetWhole replaces the document under key.
	SetWhole(ctx context.Context, key string, document []byte) error
	// AppendToArray appends value to the top-level array field of the document under key
	// without transferring the document.
	AppendToArray(ctx context.Context, key string, field string, value []byte) error
	// Batch submits ops in one round trip and returns their results in submission order.
	// When atomic is true either every op applies or none does; a backend that discovers
	// otherwise after the fact returns ErrPartialBatchFailure.
	Batch(ctx context.Context, ops []Operation, atomic bool) ([]Result, error)
	// ListKeys returns every document key starting with prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	// SetAdd inserts member into the set under key and reports whether it was new.
	SetAdd(ctx context.Context, key string, member string) (bool, error)
	// SetMembers returns the members of the set under key.
	SetMembers(ctx context.Context, key string) ([]string, error)
	Close() error
}

// OperationKind enumerates the operations a batch may carry.
type OperationKind int

const (
	OpGet OperationKind = iota + 1
	OpSetWhole
	OpAppend
	OpSetAdd
)

func (k OperationKind) String() string {
	switch k {
	case OpGet:
		return "get"
	case OpSetWhole:
		return "set_whole"
	case OpAppend:
		return "append"
	case OpSetAdd:
		return "set_add"
	default:
		return fmt.Sprintf("operation(%d)", int(k))
	}
}

// Operation is one entry of a batch.
type Operation struct {
	Kind  OperationKind
	Key   string
	Field string
	// Value carries the document for OpSetWhole, the element for OpAppend and the member for OpSetAdd.
	Value []byte
}

// Get builds a read operation.
func Get(key string) Operation {
	return Operation{Kind: OpGet, Key: key}
}

// SetWhole builds a replace operation.
func SetWhole(key string, document []byte) Operation {
	return Operation{Kind: OpSetWhole, Key: key, Value: document}
}

// Append builds an array append operation.
func Append(key string, field string, value []byte) Operation {
	return Operation{Kind: OpAppend, Key: key, Field: field, Value: value}
}

// SetAdd builds a set insert operation.
func SetAdd(key string, member string) Operation {
	return Operation{Kind: OpSetAdd, Key: key, Value: []byte(member)}
}

// Result is the outcome of one batch operation.
type Result struct {
	Document []byte
	Found    bool
	Added    bool
	Err      error
}

func (o Operation) writes() bool {
	return o.Kind != OpGet
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

func validateDocument(document []byte) error {
	if !json.Valid(document) {
		return ErrInvalidDocument
	}
	return nil
}

func validateOperation(op Operation) error {
	switch op.Kind {
	case OpGet, OpSetAdd:
		return nil
	case OpSetWhole:
		return validateDocument(op.Value)
	case OpAppend:
		if err := validateField(op.Field); err != nil {
			return err
		}
		return validateDocument(op.Value)
	default:
		return fmt.Errorf("store: unsupported operation %s", op.Kind)
	}
}

func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
