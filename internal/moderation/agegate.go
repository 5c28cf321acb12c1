package moderation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
)

const (
	snowflakeTimestampShift = 22
	// snowflakeEpochMillis is 2015-01-01T00:00:00Z, the platform epoch.
	snowflakeEpochMillis = 1420070400000
	secondsPerDay        = 24 * 60 * 60
)

// SnowflakeCreatedAt decodes the creation time embedded in a snowflake identifier,
// truncated to whole seconds.
func SnowflakeCreatedAt(id uint64) time.Time {
	millis := (id >> snowflakeTimestampShift) + snowflakeEpochMillis
	return time.Unix(int64(millis/1000), 0).UTC()
}

// ParseSnowflake decodes the creation time of a textual identifier. A number that does
// not fit the identifier range decodes to the zero time so the age computed from it is
// very large rather than an error.
func ParseSnowflake(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err == nil {
		return SnowflakeCreatedAt(id), nil
	}
	if errors.Is(err, strconv.ErrRange) || isNegativeInteger(trimmed) {
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("%w: identifier %q is not numeric", ledger.ErrMalformedInput, raw)
}

func isNegativeInteger(value string) bool {
	if len(value) < 2 || value[0] != '-' {
		return false
	}
	for _, r := range value[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Gate decision reasons.
const (
	GateAllowListed     = "allow_listed"
	GateAutoKickOff     = "auto_kick_disabled"
	GateOldEnough       = "old_enough"
	GateAccountTooYoung = "account_too_young"
)

type GateDecision struct {
	Pass    bool   `json:"pass"`
	AgeDays int64  `json:"age_days"`
	Reason  string `json:"reason"`
}

// AgeGate decides whether a newly joined identity may stay.
type AgeGate struct {
	MinAgeDays int
}

// Evaluate applies, in order: allow-list, the community's auto-kick switch, the age threshold.
func (g AgeGate) Evaluate(createdAt, now time.Time, autoKick, allowListed bool) GateDecision {
	decision := GateDecision{AgeDays: AgeInDays(createdAt, now)}
	switch {
	case allowListed:
		decision.Pass, decision.Reason = true, GateAllowListed
	case !autoKick:
		decision.Pass, decision.Reason = true, GateAutoKickOff
	case decision.AgeDays >= int64(g.MinAgeDays):
		decision.Pass, decision.Reason = true, GateOldEnough
	default:
		decision.Reason = GateAccountTooYoung
	}
	return decision
}

// AgeInDays counts whole days between createdAt and now. It goes through Unix seconds
// because time.Duration cannot span the zero time.
func AgeInDays(createdAt, now time.Time) int64 {
	return (now.Unix() - createdAt.Unix()) / secondsPerDay
}
