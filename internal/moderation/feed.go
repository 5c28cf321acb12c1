package moderation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
)

const (
	feedColumnAuthorID = "AuthorID"
	feedColumnAuthor   = "Author"
	feedSentinel       = "0"
	utf8ByteOrderMark  = "\ufeff"
)

// ImportRow is one (identity, display name) pair from a bulk import feed.
type ImportRow struct {
	ExternalID  string
	DisplayName string
}

// SkippedRow is a feed line that could not be used.
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportFeed is a parsed bulk import feed.
type ImportFeed struct {
	Rows    []ImportRow
	Skipped []SkippedRow
	// Sentinels counts ("0", "0") rows, which are discarded without being reported as skipped.
	Sentinels int
}

// ParseImportFeed reads a CSV export with AuthorID and Author columns. Other columns are
// ignored, but every row must be as wide as the header. Bad rows are collected in Skipped; only an unreadable header fails the feed.
func ParseImportFeed(reader io.Reader) (ImportFeed, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	header, err := csvReader.Read()
	if errors.Is(err, io.EOF) {
		return ImportFeed{}, fmt.Errorf("%w: import feed is empty", ledger.ErrMalformedInput)
	}
	if err != nil {
		return ImportFeed{}, fmt.Errorf("%w: import feed header: %v", ledger.ErrMalformedInput, err)
	}
	idColumn, nameColumn := -1, -1
	for index, column := range header {
		switch strings.TrimSpace(strings.TrimPrefix(column, utf8ByteOrderMark)) {
		case feedColumnAuthorID:
			idColumn = index
		case feedColumnAuthor:
			nameColumn = index
		}
	}
	if idColumn < 0 || nameColumn < 0 {
		return ImportFeed{}, fmt.Errorf("%w: import feed needs %s and %s columns", ledger.ErrMalformedInput, feedColumnAuthorID, feedColumnAuthor)
	}

	feed := ImportFeed{Rows: []ImportRow{}}
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				feed.Skipped = append(feed.Skipped, SkippedRow{Line: parseErr.StartLine, Reason: parseErr.Err.Error()})
				continue
			}
			return ImportFeed{}, fmt.Errorf("read import feed: %w", err)
		}
		line, _ := csvReader.FieldPos(0)

		if len(record) != len(header) {
			feed.Skipped = append(feed.Skipped, SkippedRow{Line: line, Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(record))})
			continue
		}
		id := strings.TrimSpace(record[idColumn])
		name := strings.TrimSpace(record[nameColumn])
		if id == feedSentinel && name == feedSentinel {
			feed.Sentinels++
			continue
		}
		if id == "" {
			feed.Skipped = append(feed.Skipped, SkippedRow{Line: line, Reason: "empty author id"})
			continue
		}
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			feed.Skipped = append(feed.Skipped, SkippedRow{Line: line, Reason: fmt.Sprintf("author id %q is not numeric", id)})
			continue
		}
		feed.Rows = append(feed.Rows, ImportRow{ExternalID: id, DisplayName: name})
	}
	return feed, nil
}
