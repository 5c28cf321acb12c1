package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"go.uber.org/zap"
)

// AddOffenseRequest records one incident against one identity.
type AddOffenseRequest struct {
	UserID       string
	DisplayName  ledger.Optional
	SecondaryID  ledger.Optional
	CommunityID  string
	Reason       string
	EvidenceLink ledger.Optional
	Notes        ledger.Optional
}

type AddOffenseResult struct {
	UserID  ledger.ExternalID
	Offense ledger.Offense
	// Created reports whether the identity had no ledger entry before this call.
	Created bool
}

// AddOffense appends an offense to the identity's document, creating the document when
// the identity is new. Existing entries are never read back, so concurrent additions to
// the same identity do not lose each other.
func (s *Service) AddOffense(ctx context.Context, request AddOffenseRequest) (AddOffenseResult, error) {
	userID, err := parseExternalID(request.UserID)
	if err != nil {
		return AddOffenseResult{}, newServiceError(opAddOffense, "invalid_user_id", err)
	}
	communityID, err := parseCommunityID(request.CommunityID)
	if err != nil {
		return AddOffenseResult{}, newServiceError(opAddOffense, "invalid_community_id", err)
	}
	reason := strings.TrimSpace(request.Reason)
	if reason == "" {
		return AddOffenseResult{}, newServiceError(opAddOffense, "missing_reason", invalid("reason is required"))
	}

	offense := ledger.Offense{
		CommunityID:  communityID.String(),
		Reason:       reason,
		EvidenceLink: request.EvidenceLink,
		Notes:        request.Notes,
	}
	element, err := json.Marshal(offense)
	if err != nil {
		return AddOffenseResult{}, s.fail(opAddOffense, "encode_failed", err)
	}

	key := ledger.UserKey(userID)
	result := AddOffenseResult{UserID: userID, Offense: offense}
	err = s.store.AppendToArray(ctx, key, ledger.OffensesField, element)
	switch {
	case err == nil:
		offensesAdded.WithLabelValues("append").Inc()
	case errors.Is(err, store.ErrNoDocument):
		document, encodeErr := ledger.EncodeUserRecord(ledger.UserRecord{
			ExternalID:  userID,
			DisplayName: request.DisplayName,
			SecondaryID: request.SecondaryID,
			Offenses:    []ledger.Offense{offense},
		})
		if encodeErr != nil {
			return AddOffenseResult{}, s.fail(opAddOffense, "encode_failed", encodeErr)
		}
		if err := s.store.SetWhole(ctx, key, document); err != nil {
			return AddOffenseResult{}, s.fail(opAddOffense, "create_failed", err, zap.String("user_id", userID.String()))
		}
		result.Created = true
		offensesAdded.WithLabelValues("create").Inc()
	case errors.Is(err, store.ErrNotArray):
		malformedDocuments.WithLabelValues(opAddOffense).Inc()
		return AddOffenseResult{}, s.fail(opAddOffense, "malformed_document",
			fmt.Errorf("%w: %w", ledger.ErrMalformedInput, err), zap.String("key", key))
	default:
		return AddOffenseResult{}, s.fail(opAddOffense, "append_failed", err, zap.String("user_id", userID.String()))
	}

	s.logger.Info("offense recorded",
		zap.String("user_id", userID.String()),
		zap.String("community_id", communityID.String()),
		zap.Bool("created", result.Created))
	s.events.Publish(Event{Type: EventOffenseAdded, CommunityID: communityID.String(), Payload: result})
	return result, nil
}

// LookupUser returns the ledger entry for rawID. An unknown identity is (zero, false, nil).
func (s *Service) LookupUser(ctx context.Context, rawID string) (ledger.UserRecord, bool, error) {
	userID, err := parseExternalID(rawID)
	if err != nil {
		return ledger.UserRecord{}, false, newServiceError(opLookupUser, "invalid_user_id", err)
	}
	key := ledger.UserKey(userID)
	document, found, err := s.store.Get(ctx, key)
	if err != nil {
		return ledger.UserRecord{}, false, s.fail(opLookupUser, "get_failed", err, zap.String("user_id", userID.String()))
	}
	if !found {
		return ledger.UserRecord{}, false, nil
	}
	record, err := ledger.DecodeUserRecord(key, document)
	if err != nil {
		malformedDocuments.WithLabelValues(opLookupUser).Inc()
		return ledger.UserRecord{}, false, s.fail(opLookupUser, "decode_failed", err, zap.String("key", key))
	}
	return record, true, nil
}

type storedRecord struct {
	key    string
	record ledger.UserRecord
}

type ledgerSnapshot struct {
	records []storedRecord
	// malformed holds the keys of documents that could not be decoded.
	malformed []string
}

// loadLedger enumerates every user key and reads all documents in one atomic batch.
func (s *Service) loadLedger(ctx context.Context, operation string) (ledgerSnapshot, error) {
	keys, err := s.store.ListKeys(ctx, ledger.UserKeyPrefix)
	if err != nil {
		return ledgerSnapshot{}, s.fail(operation, "list_keys_failed", err)
	}
	snapshot := ledgerSnapshot{records: make([]storedRecord, 0, len(keys))}
	if len(keys) == 0 {
		return snapshot, nil
	}

	ops := make([]store.Operation, len(keys))
	for index, key := range keys {
		ops[index] = store.Get(key)
	}
	results, err := s.store.Batch(ctx, ops, true)
	if err != nil {
		return ledgerSnapshot{}, s.fail(operation, "batch_read_failed", err, zap.Int("keys", len(keys)))
	}

	for index, result := range results {
		if result.Err != nil {
			return ledgerSnapshot{}, s.fail(operation, "batch_read_failed", result.Err, zap.String("key", keys[index]))
		}
		if !result.Found {
			continue
		}
		record, err := ledger.DecodeUserRecord(keys[index], result.Document)
		if err != nil {
			malformedDocuments.WithLabelValues(operation).Inc()
			s.logger.Warn("skipping malformed user document",
				zap.String("operation", operation),
				zap.String("key", keys[index]),
				zap.Error(err))
			snapshot.malformed = append(snapshot.malformed, keys[index])
			continue
		}
		snapshot.records = append(snapshot.records, storedRecord{key: keys[index], record: record})
	}
	return snapshot, nil
}

func batchWriteReason(err error) string {
	if errors.Is(err, store.ErrPartialBatchFailure) {
		return "batch_partially_applied"
	}
	return "batch_write_failed"
}
