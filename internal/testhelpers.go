package internal

import (
	"time"
)

// CreateTestSession creates a test session with sample data
func CreateTestSession(id string) *Session {
	now := time.Now().Format(time.RFC3339)
	return &Session{
		ID:      id,
		Trigger: "chat",
		Status:  "running",
		Messages: []Message{
			{
				Actor:     "user",
				Content:   "What's on my calendar today?",
				Timestamp: now,
			},
			{
				Actor:     "assistant",
				Content:   "You have two meetings this afternoon.",
				Timestamp: now,
			},
		},
		Metadata: Metadata{
			StartedAt:    now,
			MessageCount: 2,
		},
	}
}
