package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrMalformedInput indicates a row or persisted document that cannot be interpreted.
	ErrMalformedInput = errors.New("ledger: malformed input")
	// ErrInvalidExternalID indicates an empty or oversized identity identifier.
	ErrInvalidExternalID = errors.New("ledger: invalid external id")
	// ErrInvalidCommunityID indicates an empty or oversized community identifier.
	ErrInvalidCommunityID = errors.New("ledger: invalid community id")
)

// ExternalID identifies an identity under moderation.
type ExternalID string

// NewExternalID validates raw input and returns an ExternalID.
func NewExternalID(rawInput string) (ExternalID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidExternalID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidExternalID, maxIdentifierLength)
	}
	return ExternalID(trimmed), nil
}

// String returns the underlying identifier.
func (id ExternalID) String() string {
	return string(id)
}

// CommunityID identifies a community (guild).
type CommunityID string

// NewCommunityID validates raw input and returns a CommunityID.
func NewCommunityID(rawInput string) (CommunityID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCommunityID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCommunityID, maxIdentifierLength)
	}
	return CommunityID(trimmed), nil
}

// String returns the underlying identifier.
func (id CommunityID) String() string {
	return string(id)
}

// Offense is one flagged incident. Two offenses are the same incident iff every field
// is equal, which is exactly Go struct equality.
type Offense struct {
	CommunityID  string
	Reason       string
	EvidenceLink Optional
	Notes        Optional
}

type offenseDocument struct {
	GuildID string   `json:"guild_id"`
	Reason  string   `json:"reason"`
	Image   Optional `json:"image"`
	Extra   Optional `json:"extra"`
}

// MarshalJSON renders the persisted offense shape.
func (o Offense) MarshalJSON() ([]byte, error) {
	return json.Marshal(offenseDocument{
		GuildID: o.CommunityID,
		Reason:  o.Reason,
		Image:   o.EvidenceLink,
		Extra:   o.Notes,
	})
}

// UnmarshalJSON decodes the persisted offense shape, treating "0" as absent for the
// evidence and notes fields.
func (o *Offense) UnmarshalJSON(data []byte) error {
	var doc offenseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: offense: %v", ErrMalformedInput, err)
	}
	*o = Offense{
		CommunityID:  doc.GuildID,
		Reason:       doc.Reason,
		EvidenceLink: doc.Image.zeroAsAbsent(),
		Notes:        doc.Extra.zeroAsAbsent(),
	}
	return nil
}

// UserRecord is an identity under moderation together with its offenses.
type UserRecord struct {
	ExternalID  ExternalID
	DisplayName Optional
	SecondaryID Optional
	Offenses    []Offense
}

type userDocument struct {
	SecondaryID Optional  `json:"vrc_id"`
	Username    Optional  `json:"username"`
	DiscordID   Optional  `json:"discord_id"`
	Offences    []Offense `json:"offences"`
}

// MarshalJSON renders the persisted user shape. The offense list is never null.
func (r UserRecord) MarshalJSON() ([]byte, error) {
	offenses := r.Offenses
	if offenses == nil {
		offenses = []Offense{}
	}
	discordID := None()
	if r.ExternalID != "" {
		discordID = Some(r.ExternalID.String())
	}
	return json.Marshal(userDocument{
		SecondaryID: r.SecondaryID,
		Username:    r.DisplayName,
		DiscordID:   discordID,
		Offences:    offenses,
	})
}

// UnmarshalJSON decodes the persisted user shape. ExternalID is left empty when the
// document does not carry one; DecodeUserRecord recovers it from the storage key.
func (r *UserRecord) UnmarshalJSON(data []byte) error {
	var doc userDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: user: %v", ErrMalformedInput, err)
	}
	record := UserRecord{
		DisplayName: doc.Username,
		SecondaryID: doc.SecondaryID.zeroAsAbsent(),
		Offenses:    doc.Offences,
	}
	if id, ok := doc.DiscordID.zeroAsAbsent().Get(); ok {
		record.ExternalID = ExternalID(strings.TrimSpace(id))
	}
	if record.Offenses == nil {
		record.Offenses = []Offense{}
	}
	*r = record
	return nil
}

// DecodeUserRecord decodes a document read from key. When the document lacks an
// identifier, the identifier embedded in the key is used.
func DecodeUserRecord(key string, document []byte) (UserRecord, error) {
	var record UserRecord
	if err := json.Unmarshal(document, &record); err != nil {
		if errors.Is(err, ErrMalformedInput) {
			return UserRecord{}, fmt.Errorf("%s: %w", key, err)
		}
		return UserRecord{}, fmt.Errorf("%w: %s: %v", ErrMalformedInput, key, err)
	}
	if record.ExternalID == "" {
		id, ok := ExternalIDFromKey(key)
		if !ok {
			return UserRecord{}, fmt.Errorf("%w: %s: missing external id", ErrMalformedInput, key)
		}
		record.ExternalID = id
	}
	return record, nil
}

// EncodeUserRecord renders the document stored under UserKey(record.ExternalID).
func EncodeUserRecord(record UserRecord) ([]byte, error) {
	if record.ExternalID == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidExternalID)
	}
	return json.Marshal(record)
}

// GuildSettings is per-community configuration.
type GuildSettings struct {
	NotificationChannelID string `json:"channel_id"`
	AutoKickNewAccounts   bool   `json:"kick"`
	CommunityDisplayName  string `json:"server_name"`
}

// DecodeGuildSettings decodes a guild settings document.
func DecodeGuildSettings(document []byte) (GuildSettings, error) {
	var settings GuildSettings
	if err := json.Unmarshal(document, &settings); err != nil {
		return GuildSettings{}, fmt.Errorf("%w: guild settings: %v", ErrMalformedInput, err)
	}
	return settings, nil
}

// AuthorizationSet is the set of identities permitted to run moderation commands in a community.
type AuthorizationSet map[string]struct{}

// NewAuthorizationSet builds a set from members.
func NewAuthorizationSet(members ...string) AuthorizationSet {
	set := make(AuthorizationSet, len(members))
	for _, member := range members {
		set.Add(member)
	}
	return set
}

// Add inserts member and reports whether it was new.
func (s AuthorizationSet) Add(member string) bool {
	if _, ok := s[member]; ok {
		return false
	}
	s[member] = struct{}{}
	return true
}

// Contains reports whether member is in the set.
func (s AuthorizationSet) Contains(member string) bool {
	_, ok := s[member]
	return ok
}
