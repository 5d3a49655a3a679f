package conversation

import (
	"sync"
	"time"

	"github.com/auralis-labs/duplex/pkg/llm"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// TurnRecord is one contribution to the conversation.
type TurnRecord struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

const defaultHistoryLimit = 12

// History is an append-only, size-bounded log of turn records. A system
// preamble, once set, survives every eviction. Only the coordinator
// mutates a History; the lock exists because observers may snapshot it.
type History struct {
	mu       sync.Mutex
	limit    int
	preamble *TurnRecord
	records  []TurnRecord
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{limit: limit}
}

// SetPreamble installs the system preamble. It is pinned: appends never
// evict it.
func (h *History) SetPreamble(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preamble = &TurnRecord{Role: RoleSystem, Text: text, Timestamp: time.Now()}
}

// Append adds a record, evicting the oldest non-preamble record when the
// bound is exceeded.
func (h *History) Append(role Role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, TurnRecord{Role: role, Text: text, Timestamp: time.Now()})
	if len(h.records) > h.limit {
		h.records = h.records[len(h.records)-h.limit:]
	}
}

// Records returns the preamble (if set) followed by the retained turns.
func (h *History) Records() []TurnRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]TurnRecord, 0, len(h.records)+1)
	if h.preamble != nil {
		out = append(out, *h.preamble)
	}
	return append(out, h.records...)
}

// Len counts retained turns, excluding the preamble.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// ToMessages converts the history into generator messages.
func (h *History) ToMessages() []llm.Message {
	recs := h.Records()
	out := make([]llm.Message, 0, len(recs))
	for _, r := range recs {
		role := llm.RoleUser
		switch r.Role {
		case RoleAgent:
			role = llm.RoleAssistant
		case RoleSystem:
			role = llm.RoleSystem
		}
		out = append(out, llm.Message{Role: role, Content: r.Text})
	}
	return out
}
