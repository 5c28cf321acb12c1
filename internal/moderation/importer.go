package moderation

import (
	"context"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"go.uber.org/zap"
)

// ImportRequest attributes every row of Feed to one community and reason.
type ImportRequest struct {
	Feed        ImportFeed
	CommunityID string
	Reason      string
}

type ImportReport struct {
	ImportID    string       `json:"import_id"`
	CommunityID string       `json:"community_id"`
	Rows        int          `json:"rows"`
	Processed   int          `json:"processed"`
	Skipped     []SkippedRow `json:"skipped"`
	Sentinels   int          `json:"sentinels"`
	Duplicates  int          `json:"duplicate_rows"`
	Automation  int          `json:"automation_rows"`
	// FailedIDs are imported identities left untouched because their stored document is unreadable.
	FailedIDs          []string      `json:"failed_ids"`
	MalformedDocuments []string      `json:"malformed_documents"`
	Duration           time.Duration `json:"duration_ns"`
}

// Import reconciles a bulk feed against the whole ledger and writes every touched
// identity back in one atomic batch. Nothing is written unless the final batch runs.
func (s *Service) Import(ctx context.Context, request ImportRequest) (ImportReport, error) {
	started := s.clock()
	communityID, err := parseCommunityID(request.CommunityID)
	if err != nil {
		return ImportReport{}, newServiceError(opImport, "invalid_community_id", err)
	}
	reason := strings.TrimSpace(request.Reason)
	if reason == "" {
		return ImportReport{}, newServiceError(opImport, "missing_reason", invalid("reason is required"))
	}
	importID, err := s.idProvider.NewID()
	if err != nil {
		return ImportReport{}, s.fail(opImport, "id_generation_failed", err)
	}

	report := ImportReport{
		ImportID:           importID,
		CommunityID:        communityID.String(),
		Rows:               len(request.Feed.Rows) + len(request.Feed.Skipped) + request.Feed.Sentinels,
		Skipped:            append([]SkippedRow{}, request.Feed.Skipped...),
		Sentinels:          request.Feed.Sentinels,
		FailedIDs:          []string{},
		MalformedDocuments: []string{},
	}
	logger := s.logger.With(zap.String("import_id", importID), zap.String("community_id", communityID.String()))

	fresh, order := s.freshRecords(request.Feed.Rows, communityID, reason, &report)

	snapshot, err := s.loadLedger(ctx, opImport)
	if err != nil {
		return ImportReport{}, err
	}
	report.MalformedDocuments = append(report.MalformedDocuments, snapshot.malformed...)
	unreadable := make(map[ledger.ExternalID]struct{}, len(snapshot.malformed))
	for _, key := range snapshot.malformed {
		if id, ok := ledger.ExternalIDFromKey(key); ok {
			unreadable[id] = struct{}{}
		}
	}
	stored := make(map[ledger.ExternalID][]ledger.UserRecord, len(fresh))
	for _, entry := range snapshot.records {
		if _, imported := fresh[entry.record.ExternalID]; imported {
			stored[entry.record.ExternalID] = append(stored[entry.record.ExternalID], entry.record)
		}
	}

	ops := make([]store.Operation, 0, len(order))
	for _, id := range order {
		if _, bad := unreadable[id]; bad {
			report.FailedIDs = append(report.FailedIDs, id.String())
			logger.Warn("import skipped identity with unreadable ledger entry", zap.String("user_id", id.String()))
			continue
		}
		// Stored records go first so a present field of the fresh record, the new display
		// name, wins while stored-only fields such as the secondary id survive.
		merged := ledger.Merge(append(stored[id], fresh[id])...)
		merged.ExternalID = id
		document, err := ledger.EncodeUserRecord(merged)
		if err != nil {
			return ImportReport{}, s.fail(opImport, "encode_failed", err, zap.String("user_id", id.String()))
		}
		ops = append(ops, store.SetWhole(ledger.UserKey(id), document))
	}

	if len(ops) > 0 {
		if _, err := s.store.Batch(ctx, ops, true); err != nil {
			return ImportReport{}, s.fail(opImport, batchWriteReason(err), err, zap.String("import_id", importID), zap.Int("records", len(ops)))
		}
	}
	report.Processed = len(ops)
	report.Duration = s.clock().Sub(started)

	importRows.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	importRows.WithLabelValues("sentinel").Add(float64(report.Sentinels))
	importRows.WithLabelValues("duplicate").Add(float64(report.Duplicates))
	importRows.WithLabelValues("automation").Add(float64(report.Automation))
	importIdentities.Add(float64(report.Processed))

	logger.Info("import completed",
		zap.Int("rows", report.Rows),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.FailedIDs)),
		zap.Duration("duration", report.Duration))
	s.events.Publish(Event{Type: EventImportCompleted, CommunityID: communityID.String(), Payload: report})
	return report, nil
}

// freshRecords collapses identical rows, drops automation accounts, and builds one
// record per distinct identity carrying a single new offense. The display name of the
// last row for an identity wins. order lists identities by first appearance.
func (s *Service) freshRecords(rows []ImportRow, communityID ledger.CommunityID, reason string, report *ImportReport) (map[ledger.ExternalID]ledger.UserRecord, []ledger.ExternalID) {
	seenRows := make(map[ImportRow]struct{}, len(rows))
	fresh := make(map[ledger.ExternalID]ledger.UserRecord, len(rows))
	order := make([]ledger.ExternalID, 0, len(rows))
	offense := ledger.Offense{CommunityID: communityID.String(), Reason: reason}

	for _, row := range rows {
		if _, duplicate := seenRows[row]; duplicate {
			report.Duplicates++
			continue
		}
		seenRows[row] = struct{}{}

		id, err := ledger.NewExternalID(row.ExternalID)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRow{Reason: err.Error()})
			continue
		}
		if s.automation.Contains(id.String()) && !s.admins.Contains(id.String()) {
			report.Automation++
			continue
		}

		record, known := fresh[id]
		if !known {
			order = append(order, id)
			record = ledger.UserRecord{ExternalID: id, Offenses: []ledger.Offense{offense}}
		}
		if name := strings.TrimSpace(row.DisplayName); name != "" {
			record.DisplayName = ledger.ParseOptional(name, false)
		}
		fresh[id] = record
	}
	return fresh, order
}
