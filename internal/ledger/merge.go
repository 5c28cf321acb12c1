package ledger

// Merge combines records believed to describe the same identity.
//
// Scalar fields take the last present value in input order. Offenses are concatenated
// in input order and then deduplicated by full equality; the order of the retained
// offenses is not specified.
func Merge(records ...UserRecord) UserRecord {
	merged := UserRecord{Offenses: []Offense{}}
	for _, record := range records {
		if record.ExternalID != "" {
			merged.ExternalID = record.ExternalID
		}
		if record.DisplayName.Present() {
			merged.DisplayName = record.DisplayName
		}
		if record.SecondaryID.Present() {
			merged.SecondaryID = record.SecondaryID
		}
		merged.Offenses = append(merged.Offenses, record.Offenses...)
	}
	merged.Offenses = DedupOffenses(merged.Offenses)
	return merged
}

// DedupOffenses removes offenses that are fully equal to another one in the list.
// It goes through a set, so callers must not rely on the resulting order.
func DedupOffenses(offenses []Offense) []Offense {
	seen := make(map[Offense]struct{}, len(offenses))
	for _, offense := range offenses {
		seen[offense] = struct{}{}
	}
	out := make([]Offense, 0, len(seen))
	for offense := range seen {
		out = append(out, offense)
	}
	return out
}

// WithoutCommunity returns the offenses not attributed to community, preserving order,
// and reports whether anything was removed.
func WithoutCommunity(offenses []Offense, community CommunityID) ([]Offense, bool) {
	kept := make([]Offense, 0, len(offenses))
	for _, offense := range offenses {
		if offense.CommunityID == community.String() {
			continue
		}
		kept = append(kept, offense)
	}
	return kept, len(kept) != len(offenses)
}
