package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDocumentsCollection = "documents"
	mongoSetsCollection      = "sets"
	mongoBodyField           = "body"
	mongoMembersField        = "members"

	// IllegalOperation: the server cannot run multi-document transactions (standalone mode).
	mongoIllegalOperationCode = 20
)

// MongoStore keeps each document as {_id: key, body: <document>} so arrays can be
// appended to in place.
type MongoStore struct {
	client    *mongo.Client
	documents *mongo.Collection
	sets      *mongo.Collection
}

// NewMongoStore connects to mongoURI and checks the connection.
func NewMongoStore(ctx context.Context, mongoURI, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, unavailable(err)
	}
	db := client.Database(dbName)
	return &MongoStore{
		client:    client,
		documents: db.Collection(mongoDocumentsCollection),
		sets:      db.Collection(mongoSetsCollection),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var stored struct {
		Body bson.Raw `bson:"body"`
	}
	err := s.documents.FindOne(ctx, bson.M{"_id": key}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classifyMongo(err)
	}
	document, err := bson.MarshalExtJSON(stored.Body, false, false)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, key, err)
	}
	return document, true, nil
}

func (s *MongoStore) SetWhole(ctx context.Context, key string, document []byte) error {
	body, err := toBSONDocument(document)
	if err != nil {
		return err
	}
	_, err = s.documents.ReplaceOne(ctx,
		bson.M{"_id": key},
		bson.D{{Key: "_id", Value: key}, {Key: mongoBodyField, Value: body}},
		options.Replace().SetUpsert(true))
	return classifyMongo(err)
}

func (s *MongoStore) AppendToArray(ctx context.Context, key string, field string, value []byte) error {
	if err := validateField(field); err != nil {
		return err
	}
	element, err := toBSONValue(value)
	if err != nil {
		return err
	}
	path := mongoBodyField + "." + field
	result, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": key, path: bson.M{"$type": "array"}},
		bson.M{"$push": bson.M{path: element}})
	if err != nil {
		return classifyMongo(err)
	}
	if result.MatchedCount > 0 {
		return nil
	}
	existing, err := s.documents.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
	if err != nil {
		return classifyMongo(err)
	}
	if existing == 0 {
		return fmt.Errorf("%w: %s", ErrNoDocument, key)
	}
	return fmt.Errorf("%w: %s.%s", ErrNotArray, key, field)
}

// Batch runs atomic batches in a multi-document transaction. A standalone server has
// no transactions; there the ops run in order and a failure after an applied write is
// reported as ErrPartialBatchFailure.
func (s *MongoStore) Batch(ctx context.Context, ops []Operation, atomic bool) ([]Result, error) {
	for _, op := range ops {
		if err := validateOperation(op); err != nil {
			return nil, err
		}
	}
	if !atomic {
		results := make([]Result, len(ops))
		for index, op := range ops {
			results[index] = s.apply(ctx, op)
			if errors.Is(results[index].Err, ErrStoreUnavailable) {
				return nil, results[index].Err
			}
		}
		return results, nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		return nil, classifyMongo(err)
	}
	defer session.EndSession(ctx)

	outcome, err := session.WithTransaction(ctx, func(sessionContext mongo.SessionContext) (interface{}, error) {
		results := make([]Result, len(ops))
		for index, op := range ops {
			result := s.apply(sessionContext, op)
			if result.Err != nil {
				return nil, fmt.Errorf("batch op %d (%s %s): %w", index, op.Kind, op.Key, result.Err)
			}
			results[index] = result
		}
		return results, nil
	})
	if err != nil {
		if transactionsUnsupported(err) {
			return s.sequentialAtomic(ctx, ops)
		}
		return nil, classifyMongo(err)
	}
	return outcome.([]Result), nil
}

func (s *MongoStore) sequentialAtomic(ctx context.Context, ops []Operation) ([]Result, error) {
	results := make([]Result, len(ops))
	applied := 0
	for index, op := range ops {
		result := s.apply(ctx, op)
		results[index] = result
		if result.Err != nil {
			if applied > 0 {
				return results, fmt.Errorf("%w: op %d (%s %s): %v", ErrPartialBatchFailure, index, op.Kind, op.Key, result.Err)
			}
			return nil, fmt.Errorf("batch op %d (%s %s): %w", index, op.Kind, op.Key, result.Err)
		}
		if op.writes() {
			applied++
		}
	}
	return results, nil
}

func (s *MongoStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	cursor, err := s.documents.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, classifyMongo(err)
	}
	defer cursor.Close(ctx)

	keys := []string{}
	for cursor.Next(ctx) {
		var entry struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&entry); err != nil {
			return nil, err
		}
		keys = append(keys, entry.Key)
	}
	if err := cursor.Err(); err != nil {
		return nil, classifyMongo(err)
	}
	return keys, nil
}

func (s *MongoStore) SetAdd(ctx context.Context, key string, member string) (bool, error) {
	result, err := s.sets.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$addToSet": bson.M{mongoMembersField: member}},
		options.Update().SetUpsert(true))
	if err != nil {
		return false, classifyMongo(err)
	}
	return result.ModifiedCount > 0 || result.UpsertedCount > 0, nil
}

func (s *MongoStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	var stored struct {
		Members []string `bson:"members"`
	}
	err := s.sets.FindOne(ctx, bson.M{"_id": key}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []string{}, nil
	}
	if err != nil {
		return nil, classifyMongo(err)
	}
	return stored.Members, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *MongoStore) apply(ctx context.Context, op Operation) Result {
	switch op.Kind {
	case OpGet:
		document, found, err := s.Get(ctx, op.Key)
		return Result{Document: document, Found: found, Err: err}
	case OpSetWhole:
		return Result{Err: s.SetWhole(ctx, op.Key, op.Value)}
	case OpAppend:
		return Result{Err: s.AppendToArray(ctx, op.Key, op.Field, op.Value)}
	case OpSetAdd:
		added, err := s.SetAdd(ctx, op.Key, string(op.Value))
		return Result{Added: added, Err: err}
	default:
		return Result{Err: fmt.Errorf("store: unsupported operation %s", op.Kind)}
	}
}

func toBSONDocument(document []byte) (bson.D, error) {
	var body bson.D
	if err := bson.UnmarshalExtJSON(document, false, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return body, nil
}

// toBSONValue converts any JSON value by wrapping it in a single-field document.
func toBSONValue(value []byte) (interface{}, error) {
	wrapped := make([]byte, 0, len(value)+6)
	wrapped = append(wrapped, `{"v":`...)
	wrapped = append(wrapped, value...)
	wrapped = append(wrapped, '}')
	body, err := toBSONDocument(wrapped)
	if err != nil {
		return nil, err
	}
	if len(body) != 1 {
		return nil, ErrInvalidDocument
	}
	return body[0].Value, nil
}

func transactionsUnsupported(err error) bool {
	var commandErr mongo.CommandError
	if errors.As(err, &commandErr) {
		return commandErr.Code == mongoIllegalOperationCode
	}
	return false
}

func classifyMongo(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, mongo.ErrClientDisconnected) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(err)
	}
	return err
}
