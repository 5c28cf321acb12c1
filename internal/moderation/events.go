package moderation

// Event types published after a successful mutation.
const (
	EventOffenseAdded    = "offense-added"
	EventImportCompleted = "import-completed"
	EventCommunityPurged = "community-purged"
	EventMemberScreened  = "member-screened"
)

// Event describes a ledger change relevant to one community.
type Event struct {
	Type        string `json:"type"`
	CommunityID string `json:"community_id"`
	Payload     any    `json:"payload"`
}

// EventSink receives events. Publish must not block.
type EventSink interface {
	Publish(event Event)
}

type discardEvents struct{}

func (discardEvents) Publish(Event) {}
