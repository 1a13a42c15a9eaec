package core

import "time"

// Record is the persisted form of one successful backend response. The field
// set mirrors a classic "responses" log table with the session and round the
// response belongs to.
type Record struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	ConversationID string        `json:"conversation_id"`
	Round          int           `json:"round"`
	Player         string        `json:"player"`
	Character      string        `json:"character"`
	Model          string        `json:"model"`
	Prompt         string        `json:"prompt"`
	System         string        `json:"system"`
	Response       string        `json:"response"`
	InputTokens    int64         `json:"input_tokens"`
	OutputTokens   int64         `json:"output_tokens"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Exchange returns the prompt/response pair held by the record.
func (r Record) Exchange() Exchange {
	return Exchange{Prompt: r.Prompt, System: r.System, Response: r.Response}
}
