package moderation

import (
	"context"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"go.uber.org/zap"
)

type PurgeReport struct {
	CommunityID        string   `json:"community_id"`
	Scanned            int      `json:"scanned"`
	Modified           int      `json:"modified"`
	MalformedDocuments []string `json:"malformed_documents"`
}

// PurgeCommunity strips every offense attributed to community from the ledger. Only
// records that lost an offense are written; a record left with no offenses is kept.
func (s *Service) PurgeCommunity(ctx context.Context, rawCommunityID string) (PurgeReport, error) {
	communityID, err := parseCommunityID(rawCommunityID)
	if err != nil {
		return PurgeReport{}, newServiceError(opPurgeCommunity, "invalid_community_id", err)
	}

	snapshot, err := s.loadLedger(ctx, opPurgeCommunity)
	if err != nil {
		return PurgeReport{}, err
	}
	report := PurgeReport{
		CommunityID:        communityID.String(),
		Scanned:            len(snapshot.records),
		MalformedDocuments: append([]string{}, snapshot.malformed...),
	}

	ops := make([]store.Operation, 0)
	for _, entry := range snapshot.records {
		kept, changed := ledger.WithoutCommunity(entry.record.Offenses, communityID)
		if !changed {
			continue
		}
		record := entry.record
		record.Offenses = kept
		document, err := ledger.EncodeUserRecord(record)
		if err != nil {
			return PurgeReport{}, s.fail(opPurgeCommunity, "encode_failed", err, zap.String("key", entry.key))
		}
		ops = append(ops, store.SetWhole(entry.key, document))
	}

	if len(ops) > 0 {
		if _, err := s.store.Batch(ctx, ops, true); err != nil {
			return PurgeReport{}, s.fail(opPurgeCommunity, batchWriteReason(err), err,
				zap.String("community_id", communityID.String()), zap.Int("records", len(ops)))
		}
	}
	report.Modified = len(ops)
	purgedRecords.Add(float64(report.Modified))

	s.logger.Info("community purged from ledger",
		zap.String("community_id", communityID.String()),
		zap.Int("scanned", report.Scanned),
		zap.Int("modified", report.Modified),
		zap.Int("malformed", len(report.MalformedDocuments)))
	s.events.Publish(Event{Type: EventCommunityPurged, CommunityID: communityID.String(), Payload: report})
	return report, nil
}
