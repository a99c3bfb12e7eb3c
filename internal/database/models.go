// internal/database/models.go
package database

import (
	"time"

	"cadpilot/internal/agent"
)

// Project is a design project the user has opened.
type Project struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	LastOpenedAt time.Time `json:"last_opened_at"`
}

// Conversation is a saved agent transcript for a project. Messages is
// empty in listings and populated by LoadConversation.
type Conversation struct {
	ID          string          `json:"id"`
	ProjectPath string          `json:"project_path"`
	Title       string          `json:"title"`
	Messages    []agent.Message `json:"messages,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
