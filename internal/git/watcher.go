// internal/git/watcher.go
package git

import (
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cadpilot/internal/eventhub"
)

// designExtensions are the project file types the editor cares about.
var designExtensions = map[string]bool{
	".scad": true,
	".json": true,
	".csv":  true,
	".svg":  true,
	".dxf":  true,
}

// Emitter receives change notifications for the UI.
type Emitter interface {
	EmitFileChanged(event eventhub.FileChangedEvent)
	EmitGitChanged(event eventhub.GitChangedEvent)
}

const debounceInterval = 300 * time.Millisecond

// ProjectWatcher watches an open project directory and its .git dir,
// emitting debounced file and version-control change events.
type ProjectWatcher struct {
	projectPath string
	emitter     Emitter
	watcher     *fsnotify.Watcher
	done        chan struct{}
	started     bool
	closed      bool
	mu          sync.Mutex

	timers  map[string]*time.Timer
	timerMu sync.Mutex
}

// NewProjectWatcher creates a watcher for a project directory. The .git
// subdirectory is watched too when present.
func NewProjectWatcher(projectPath string, emitter Emitter) (*ProjectWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := fsWatcher.Add(projectPath); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch project path %s: %w", projectPath, err)
	}

	// A missing .git dir just means no version control events.
	gitDir := filepath.Join(projectPath, ".git")
	if err := fsWatcher.Add(gitDir); err == nil {
		log.Printf("[Watcher] Watching git dir for %s", projectPath)
	}

	return &ProjectWatcher{
		projectPath: projectPath,
		emitter:     emitter,
		watcher:     fsWatcher,
		done:        make(chan struct{}),
		timers:      make(map[string]*time.Timer),
	}, nil
}

// Start begins delivering events.
func (w *ProjectWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.loop()

	// Push the initial git state so the UI has something to show.
	go w.emitGitStatus()

	return nil
}

// Close stops the watcher and cancels pending debounce timers.
func (w *ProjectWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.started {
		close(w.done)
	}

	w.timerMu.Lock()
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *ProjectWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Watcher] Error: %v", err)

		case <-w.done:
			return
		}
	}
}

func (w *ProjectWatcher) handleEvent(event fsnotify.Event) {
	kind := mapEventKind(event.Op)
	if kind == "" {
		return
	}

	if w.isGitPath(event.Name) {
		// Collapse all .git churn into one debounced status refresh.
		w.debounce(".git", w.emitGitStatus)
		return
	}

	if !designExtensions[strings.ToLower(filepath.Ext(event.Name))] {
		return
	}

	path := event.Name
	w.debounce(path, func() {
		w.emitter.EmitFileChanged(eventhub.FileChangedEvent{
			ProjectPath: w.projectPath,
			Path:        path,
			Kind:        kind,
		})
	})
}

func mapEventKind(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return "create"
	case op&fsnotify.Write == fsnotify.Write:
		return "modify"
	case op&fsnotify.Remove == fsnotify.Remove:
		return "delete"
	case op&fsnotify.Rename == fsnotify.Rename:
		return "rename"
	default:
		return ""
	}
}

func (w *ProjectWatcher) isGitPath(path string) bool {
	rel, err := filepath.Rel(w.projectPath, path)
	if err != nil {
		return false
	}
	return rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator))
}

// debounce coalesces bursts of events under the same key.
func (w *ProjectWatcher) debounce(key string, fn func()) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if timer, exists := w.timers[key]; exists {
		timer.Stop()
	}

	w.timers[key] = time.AfterFunc(debounceInterval, func() {
		w.timerMu.Lock()
		delete(w.timers, key)
		w.timerMu.Unlock()

		fn()
	})
}

// emitGitStatus shells out for porcelain status; failures are silent
// because the project may not be a repository at all.
func (w *ProjectWatcher) emitGitStatus() {
	event := eventhub.GitChangedEvent{
		Path:   w.projectPath,
		Status: make(map[string]string),
	}

	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = w.projectPath
	if output, err := cmd.Output(); err == nil {
		event.Branch = strings.TrimSpace(string(output))
	}

	cmd = exec.Command("git", "status", "--porcelain")
	cmd.Dir = w.projectPath
	output, err := cmd.Output()
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(output), "\n") {
		if len(line) < 4 {
			continue
		}
		status := strings.TrimSpace(line[:2])
		path := strings.TrimSpace(line[3:])
		if path != "" {
			event.Status[path] = status
		}
	}

	w.emitter.EmitGitChanged(event)
}
