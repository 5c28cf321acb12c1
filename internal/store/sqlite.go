package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLiteStore keeps documents in the tables managed by the database package.
type SQLiteStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLiteStore wraps an opened and migrated database.
func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db, clock: time.Now}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.get(s.db.WithContext(ctx), key)
}

func (s *SQLiteStore) SetWhole(ctx context.Context, key string, document []byte) error {
	if err := validateDocument(document); err != nil {
		return err
	}
	return s.setWhole(s.db.WithContext(ctx), key, document)
}

func (s *SQLiteStore) AppendToArray(ctx context.Context, key string, field string, value []byte) error {
	if err := validateOperation(Append(key, field, value)); err != nil {
		return err
	}
	return s.appendToArray(s.db.WithContext(ctx), key, field, value)
}

func (s *SQLiteStore) Batch(ctx context.Context, ops []Operation, atomic bool) ([]Result, error) {
	for _, op := range ops {
		if err := validateOperation(op); err != nil {
			return nil, err
		}
	}
	results := make([]Result, len(ops))
	if !atomic {
		tx := s.db.WithContext(ctx)
		for index, op := range ops {
			results[index] = s.apply(tx, op)
			if errors.Is(results[index].Err, ErrStoreUnavailable) {
				return nil, results[index].Err
			}
		}
		return results, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index, op := range ops {
			result := s.apply(tx, op)
			if result.Err != nil {
				return fmt.Errorf("batch op %d (%s %s): %w", index, op.Kind, op.Key, result.Err)
			}
			results[index] = result
		}
		return nil
	})
	if err != nil {
		return nil, classifySQLite(err)
	}
	return results, nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	query := s.db.WithContext(ctx).Model(&database.Document{})
	if namespace := database.NamespaceOf(prefix); namespace != "" {
		query = query.Where("namespace = ?", namespace)
	}
	err := query.
		Where("doc_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("doc_key").
		Pluck("doc_key", &keys).Error
	if err != nil {
		return nil, classifySQLite(err)
	}
	return keys, nil
}

func (s *SQLiteStore) SetAdd(ctx context.Context, key string, member string) (bool, error) {
	return s.setAdd(s.db.WithContext(ctx), key, member)
}

func (s *SQLiteStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := s.db.WithContext(ctx).
		Model(&database.SetMember{}).
		Where("set_key = ?", key).
		Order("member").
		Pluck("member", &members).Error
	if err != nil {
		return nil, classifySQLite(err)
	}
	return members, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) apply(tx *gorm.DB, op Operation) Result {
	switch op.Kind {
	case OpGet:
		document, found, err := s.get(tx, op.Key)
		return Result{Document: document, Found: found, Err: err}
	case OpSetWhole:
		return Result{Err: s.setWhole(tx, op.Key, op.Value)}
	case OpAppend:
		return Result{Err: s.appendToArray(tx, op.Key, op.Field, op.Value)}
	case OpSetAdd:
		added, err := s.setAdd(tx, op.Key, string(op.Value))
		return Result{Added: added, Err: err}
	default:
		return Result{Err: fmt.Errorf("store: unsupported operation %s", op.Kind)}
	}
}

func (s *SQLiteStore) get(tx *gorm.DB, key string) ([]byte, bool, error) {
	var document database.Document
	err := tx.Where("doc_key = ?", key).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classifySQLite(err)
	}
	return []byte(document.Body), true, nil
}

func (s *SQLiteStore) setWhole(tx *gorm.DB, key string, body []byte) error {
	document := database.Document{
		Key:              key,
		Namespace:        database.NamespaceOf(key),
		Body:             string(body),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"namespace", "body", "updated_at_s"}),
	}).Create(&document).Error
	return classifySQLite(err)
}

func (s *SQLiteStore) appendToArray(tx *gorm.DB, key string, field string, value []byte) error {
	fieldPath := "$." + field
	result := tx.Model(&database.Document{}).
		Where("doc_key = ? AND json_type(body, ?) = 'array'", key, fieldPath).
		Updates(map[string]any{
			"body":         gorm.Expr("json_insert(body, ?, json(?))", fieldPath+"[#]", string(value)),
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		return classifySQLite(result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var existing int64
	if err := tx.Model(&database.Document{}).Where("doc_key = ?", key).Count(&existing).Error; err != nil {
		return classifySQLite(err)
	}
	if existing == 0 {
		return fmt.Errorf("%w: %s", ErrNoDocument, key)
	}
	return fmt.Errorf("%w: %s.%s", ErrNotArray, key, field)
}

func (s *SQLiteStore) setAdd(tx *gorm.DB, key string, member string) (bool, error) {
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&database.SetMember{SetKey: key, Member: member})
	if result.Error != nil {
		return false, classifySQLite(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return unavailable(err)
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(prefix string) string {
	return likeEscaper.Replace(prefix)
}
