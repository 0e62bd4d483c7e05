package domain

import (
	"time"
)

// ChatSessionRecord is the archived state of one visitor tab's chat.
type ChatSessionRecord struct {
	VisitorID      string    `json:"visitor_id"`
	SessionID      string    `json:"session_id"`
	ViolationCount int       `json:"violation_count"`
	Blocked        bool      `json:"is_blocked"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StoredMessage is an archived transcript entry.
type StoredMessage struct {
	ID        string    `json:"id"`
	VisitorID string    `json:"visitor_id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
