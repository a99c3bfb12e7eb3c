// internal/checkpoint/journal.go
package checkpoint

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxPerProject caps how many checkpoints one project may hold.
const DefaultMaxPerProject = 20

// Journal is the per-project, bounded, FIFO checkpoint list. It is
// in-memory only: checkpoints do not survive a process restart. Every
// operation is atomic with respect to other journal operations, but not
// with respect to the filesystem content it reads and writes.
type Journal struct {
	mu       sync.Mutex
	max      int
	projects map[string][]*Checkpoint // creation order per project key
	byID     map[string]*Checkpoint

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewJournal creates a journal with the given per-project cap;
// maxPerProject <= 0 selects DefaultMaxPerProject.
func NewJournal(maxPerProject int) *Journal {
	if maxPerProject <= 0 {
		maxPerProject = DefaultMaxPerProject
	}

	encoder, _ := zstd.NewWriter(nil)
	decoder, _ := zstd.NewReader(nil)

	return &Journal{
		max:      maxPerProject,
		projects: make(map[string][]*Checkpoint),
		byID:     make(map[string]*Checkpoint),
		encoder:  encoder,
		decoder:  decoder,
	}
}

// Open creates an unfinalized checkpoint for the project and appends it to
// the project's list, evicting the oldest checkpoint(s) beyond the cap
// regardless of their finalized state.
func (j *Journal) Open(projectKey, description string) *Checkpoint {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp := &Checkpoint{
		ID:          uuid.New().String(),
		ProjectKey:  projectKey,
		Timestamp:   time.Now(),
		Description: description,
	}

	list := append(j.projects[projectKey], cp)
	for len(list) > j.max {
		evicted := list[0]
		list = list[1:]
		delete(j.byID, evicted.ID)
		log.Printf("[Checkpoint] Evicted oldest checkpoint %s for project %s", evicted.ID, projectKey)
	}
	j.projects[projectKey] = list
	j.byID[cp.ID] = cp

	return cp
}

// Snapshot records the current on-disk content of path into the
// checkpoint. First touch wins: later writes to the same path within the
// same checkpoint do not re-snapshot, preserving the true pre-edit state
// across multiple edits in one turn. A read failure of any kind is
// recorded as "file did not exist". No-op if the checkpoint is missing or
// already finalized.
func (j *Journal) Snapshot(checkpointID, path string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp, ok := j.byID[checkpointID]
	if !ok || cp.finalized {
		return
	}

	for _, snap := range cp.Files {
		if snap.Path == path {
			return
		}
	}

	snap := FileSnapshot{Path: path}
	if data, err := os.ReadFile(path); err == nil {
		snap.Existed = true
		snap.compressed = j.encoder.EncodeAll(data, nil)
	}
	cp.Files = append(cp.Files, snap)
}

// Finalize makes a checkpoint listable, or removes it entirely when it
// accumulated no snapshots: empty checkpoints are never visible.
func (j *Journal) Finalize(checkpointID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp, ok := j.byID[checkpointID]
	if !ok {
		return
	}

	if len(cp.Files) == 0 {
		j.removeLocked(cp)
		return
	}
	cp.finalized = true
}

// List returns the project's finalized checkpoints in creation order.
func (j *Journal) List(projectKey string) []Checkpoint {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Checkpoint
	for _, cp := range j.projects[projectKey] {
		if cp.finalized {
			out = append(out, *cp)
		}
	}
	return out
}

// Undo restores every snapshot in list order: the nil-sentinel deletes the
// file if present, anything else overwrites the file with the recorded
// content (creating parent directories as needed). A failure on one file
// is logged and skipped, never aborting the rest of the batch. The
// checkpoint is removed whether or not every restore succeeded: undo is
// single-use.
func (j *Journal) Undo(checkpointID string) UndoResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	var result UndoResult

	cp, ok := j.byID[checkpointID]
	if !ok {
		return result
	}

	for _, snap := range cp.Files {
		if !snap.Existed {
			// file was created under this checkpoint: remove it again
			if _, err := os.Stat(snap.Path); err != nil {
				continue // already absent, nothing restored
			}
			if err := os.Remove(snap.Path); err != nil {
				log.Printf("[Checkpoint] Failed to remove %s: %v", snap.Path, err)
				result.Errors = append(result.Errors, FileError{Path: snap.Path, Err: err.Error()})
				continue
			}
			result.Restored = append(result.Restored, snap.Path)
			continue
		}

		content, err := j.decoder.DecodeAll(snap.compressed, nil)
		if err != nil {
			log.Printf("[Checkpoint] Failed to decompress snapshot of %s: %v", snap.Path, err)
			result.Errors = append(result.Errors, FileError{Path: snap.Path, Err: err.Error()})
			continue
		}

		if err := os.MkdirAll(filepath.Dir(snap.Path), 0755); err != nil {
			log.Printf("[Checkpoint] Failed to create dir for %s: %v", snap.Path, err)
			result.Errors = append(result.Errors, FileError{Path: snap.Path, Err: err.Error()})
			continue
		}

		if err := os.WriteFile(snap.Path, content, 0644); err != nil {
			log.Printf("[Checkpoint] Failed to restore %s: %v", snap.Path, err)
			result.Errors = append(result.Errors, FileError{Path: snap.Path, Err: err.Error()})
			continue
		}
		result.Restored = append(result.Restored, snap.Path)
	}

	j.removeLocked(cp)
	return result
}

// removeLocked drops a checkpoint from both indexes. Caller holds j.mu.
func (j *Journal) removeLocked(cp *Checkpoint) {
	delete(j.byID, cp.ID)

	list := j.projects[cp.ProjectKey]
	for i, c := range list {
		if c.ID == cp.ID {
			j.projects[cp.ProjectKey] = append(list[:i], list[i+1:]...)
			break
		}
	}
}
