// internal/database/db.go
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"cadpilot/internal/agent"
)

// Database wraps the SQLite database connection.
type Database struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema.
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		path TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		last_opened_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		title TEXT,
		messages TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_project
		ON conversations(project_path);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// UpsertProject records a project and bumps its last-opened time.
func (d *Database) UpsertProject(path, name string) error {
	_, err := d.db.Exec(`
		INSERT INTO projects (path, name, last_opened_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET name = excluded.name, last_opened_at = excluded.last_opened_at`,
		path, name, time.Now())
	return err
}

// ListProjects returns all known projects, most recently opened first.
func (d *Database) ListProjects() ([]Project, error) {
	rows, err := d.db.Query(`
		SELECT path, name, last_opened_at FROM projects
		ORDER BY last_opened_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var lastOpened sql.NullTime
		if err := rows.Scan(&p.Path, &p.Name, &lastOpened); err != nil {
			return nil, err
		}
		if lastOpened.Valid {
			p.LastOpenedAt = lastOpened.Time
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project and its saved conversations.
func (d *Database) DeleteProject(path string) error {
	if _, err := d.db.Exec(`DELETE FROM conversations WHERE project_path = ?`, path); err != nil {
		return err
	}
	_, err := d.db.Exec(`DELETE FROM projects WHERE path = ?`, path)
	return err
}

// SaveConversation persists a conversation transcript as JSON.
func (d *Database) SaveConversation(id, projectPath, title string, messages []agent.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO conversations (id, project_path, title, messages, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, messages = excluded.messages, updated_at = excluded.updated_at`,
		id, projectPath, title, string(data), time.Now())
	return err
}

// LoadConversation returns one saved transcript.
func (d *Database) LoadConversation(id string) (*Conversation, error) {
	row := d.db.QueryRow(`
		SELECT id, project_path, title, messages, created_at FROM conversations
		WHERE id = ?`, id)

	var c Conversation
	var messagesJSON string
	if err := row.Scan(&c.ID, &c.ProjectPath, &c.Title, &messagesJSON, &c.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messagesJSON), &c.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return &c, nil
}

// ListConversations returns a project's saved conversations without their
// message bodies, newest first.
func (d *Database) ListConversations(projectPath string) ([]Conversation, error) {
	rows, err := d.db.Query(`
		SELECT id, project_path, title, created_at FROM conversations
		WHERE project_path = ?
		ORDER BY updated_at DESC`, projectPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ProjectPath, &c.Title, &c.CreatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes one saved transcript.
func (d *Database) DeleteConversation(id string) error {
	_, err := d.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// GetSetting returns a settings value, or "" if unset.
func (d *Database) GetSetting(key string) (string, error) {
	row := d.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)

	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetSetting stores a settings value.
func (d *Database) SetSetting(key, value string) error {
	_, err := d.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now())
	return err
}
