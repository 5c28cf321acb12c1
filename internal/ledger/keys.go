package ledger

import "strings"

// Key namespace shared with every front end that reads the store.
const (
	UserKeyPrefix            = "user:"
	GuildSettingsKeyPrefix   = "guild-settings:"
	AuthorizedUsersKeyPrefix = "authed-users:"
	AllowListKey             = "kick-whitelist"
	// OffensesField is the array field of a user document that single additions append to.
	OffensesField = "offences"
)

// UserKey returns the storage key of the user document for id.
func UserKey(id ExternalID) string {
	return UserKeyPrefix + id.String()
}

// GuildSettingsKey returns the storage key of a community's settings document.
func GuildSettingsKey(community CommunityID) string {
	return GuildSettingsKeyPrefix + community.String()
}

// AuthorizedUsersKey returns the storage key of a community's authorization set.
func AuthorizedUsersKey(community CommunityID) string {
	return AuthorizedUsersKeyPrefix + community.String()
}

// ExternalIDFromKey extracts the identity from a user key.
func ExternalIDFromKey(key string) (ExternalID, bool) {
	if !strings.HasPrefix(key, UserKeyPrefix) {
		return "", false
	}
	id, err := NewExternalID(strings.TrimPrefix(key, UserKeyPrefix))
	if err != nil {
		return "", false
	}
	return id, true
}
