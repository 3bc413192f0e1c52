package repository

import "context"

// DefaultHistoryLimit bounds ContactRecord.History.
const DefaultHistoryLimit = 3

// State is the active guided-session topic of a contact.
type State string

const (
	StateNone   State = ""
	StateTopicA State = "topic_a"
	StateTopicB State = "topic_b"
	StateTopicC State = "topic_c"
)

func (s State) Valid() bool {
	switch s {
	case StateNone, StateTopicA, StateTopicB, StateTopicC:
		return true
	}
	return false
}

// Turn is one message exchanged with a contact.
type Turn struct {
	Timestamp   int64  `json:"timestamp"`
	Text        string `json:"text"`
	IsAssistant bool   `json:"is_assistant"`
}

// ContactRecord is the persisted per-contact conversation state.
type ContactRecord struct {
	ContactID     string `json:"contact_id"`
	LastWelcomeAt int64  `json:"last_welcome_at"`
	History       []Turn `json:"history"`
	State         State  `json:"state"`
	UpdatedAt     int64  `json:"updated_at,omitempty"`
}

func NewContactRecord(contactID string) ContactRecord {
	return ContactRecord{
		ContactID: contactID,
		History:   []Turn{},
		State:     StateNone,
	}
}

// PushTurn appends a turn and evicts from the front beyond limit.
func (r *ContactRecord) PushTurn(turn Turn, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	r.History = append(r.History, turn)
	if over := len(r.History) - limit; over > 0 {
		r.History = append([]Turn(nil), r.History[over:]...)
	}
}

// LastTurns returns up to n of the most recent turns, oldest first.
func (r ContactRecord) LastTurns(n int) []Turn {
	if n <= 0 || len(r.History) == 0 {
		return nil
	}
	if n > len(r.History) {
		n = len(r.History)
	}
	return r.History[len(r.History)-n:]
}

// Clone returns a deep copy so callers can mutate history freely.
func (r ContactRecord) Clone() ContactRecord {
	out := r
	out.History = append([]Turn{}, r.History...)
	return out
}

// RecordRepository persists the full contact record set of one namespace.
type RecordRepository interface {
	// LoadAll returns every stored record. An empty store yields no records and no error.
	LoadAll(ctx context.Context) ([]ContactRecord, error)

	// SaveAll persists the complete record set. Contacts missing from records
	// are removed from the namespace.
	SaveAll(ctx context.Context, records []ContactRecord) error
}
