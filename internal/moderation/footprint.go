package moderation

import (
	"context"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"go.uber.org/zap"
)

// Hit is one (identity, offense) pair found among a community's members.
type Hit struct {
	UserID       string          `json:"user_id"`
	DisplayName  ledger.Optional `json:"username"`
	CommunityID  string          `json:"guild_id"`
	Reason       string          `json:"reason"`
	EvidenceLink ledger.Optional `json:"image"`
	Notes        ledger.Optional `json:"extra"`
}

type FootprintResult struct {
	// Identities counts members with a ledger entry, including entries with no offenses.
	Identities         int      `json:"identities"`
	Hits               []Hit    `json:"hits"`
	MalformedDocuments []string `json:"malformed_documents"`
}

// Footprint reads the ledger entries of memberIDs in one batch and flattens them into
// hits. Members without an entry are left out.
func (s *Service) Footprint(ctx context.Context, memberIDs []string) (FootprintResult, error) {
	result := FootprintResult{Hits: []Hit{}, MalformedDocuments: []string{}}

	keys := make([]string, 0, len(memberIDs))
	seen := make(map[ledger.ExternalID]struct{}, len(memberIDs))
	for _, raw := range memberIDs {
		id, err := ledger.NewExternalID(raw)
		if err != nil {
			continue
		}
		if _, duplicate := seen[id]; duplicate {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, ledger.UserKey(id))
	}
	if len(keys) == 0 {
		return result, nil
	}

	ops := make([]store.Operation, len(keys))
	for index, key := range keys {
		ops[index] = store.Get(key)
	}
	results, err := s.store.Batch(ctx, ops, false)
	if err != nil {
		return FootprintResult{}, s.fail(opFootprint, "batch_read_failed", err, zap.Int("members", len(keys)))
	}

	for index, read := range results {
		if read.Err != nil {
			return FootprintResult{}, s.fail(opFootprint, "batch_read_failed", read.Err, zap.String("key", keys[index]))
		}
		if !read.Found {
			continue
		}
		record, err := ledger.DecodeUserRecord(keys[index], read.Document)
		if err != nil {
			malformedDocuments.WithLabelValues(opFootprint).Inc()
			s.logger.Warn("skipping malformed user document", zap.String("operation", opFootprint), zap.String("key", keys[index]), zap.Error(err))
			result.MalformedDocuments = append(result.MalformedDocuments, keys[index])
			continue
		}
		result.Identities++
		for _, offense := range record.Offenses {
			result.Hits = append(result.Hits, Hit{
				UserID:       record.ExternalID.String(),
				DisplayName:  record.DisplayName,
				CommunityID:  offense.CommunityID,
				Reason:       offense.Reason,
				EvidenceLink: offense.EvidenceLink,
				Notes:        offense.Notes,
			})
		}
	}
	return result, nil
}

// hitIdentities counts distinct identities among hits.
func hitIdentities(hits []Hit) int {
	ids := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		ids[hit.UserID] = struct{}{}
	}
	return len(ids)
}
