package chatbot

import "github.com/smartclass/backend/internal/storage/models"

const DefaultHistorySize = 20

// History is a bounded turn log. Every append first trims to the newest limit turns, so
// Len never exceeds limit+1. History is not safe for concurrent use; stores guard it.
type History struct {
	limit int
	turns []models.ChatTurn
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &History{limit: limit}
}

func (h *History) AppendUser(message string) {
	h.append(models.ChatTurn{Role: models.RoleUser, Message: message})
}

func (h *History) AppendAssistant(message string) {
	h.append(models.ChatTurn{Role: models.RoleAssistant, Message: message})
}

func (h *History) append(turn models.ChatTurn) {
	if over := len(h.turns) - h.limit; over > 0 {
		kept := make([]models.ChatTurn, h.limit, h.limit+1)
		copy(kept, h.turns[over:])
		h.turns = kept
	}
	h.turns = append(h.turns, turn)
}

// Snapshot returns a copy of the turns, oldest first.
func (h *History) Snapshot() []models.ChatTurn {
	out := make([]models.ChatTurn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	return len(h.turns)
}

func (h *History) Limit() int {
	return h.limit
}
