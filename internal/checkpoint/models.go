// internal/checkpoint/models.go
package checkpoint

import "time"

// Checkpoint is a named, timestamped group of pre-edit file snapshots
// enabling batch undo. It belongs to exactly one project's journal list.
type Checkpoint struct {
	ID          string         `json:"id"`
	ProjectKey  string         `json:"project_key"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description,omitempty"`
	Files       []FileSnapshot `json:"files"`

	finalized bool
}

// FileSnapshot records the pre-edit state of one file. Existed=false is
// the sentinel for "the file did not exist before this checkpoint opened";
// content is held zstd-compressed while the checkpoint is alive.
type FileSnapshot struct {
	Path    string `json:"path"`
	Existed bool   `json:"existed"`

	compressed []byte
}

// FileError is one failed restore inside a best-effort undo.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// UndoResult reports a batch restore: undo is best-effort and
// non-atomic across files, so both lists can be populated at once.
type UndoResult struct {
	Restored []string    `json:"restored"`
	Errors   []FileError `json:"errors,omitempty"`
}
