// internal/claude/runtime.go
package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"cadpilot/internal/agent"
)

// Runtime drives the Claude Code CLI as the external agent runtime. One
// StartTurn call spawns one non-interactive process whose stdout is a
// JSONL event stream; the translator consumes it line by line.
type Runtime struct {
	binaryPath string
}

// NewRuntime creates a runtime. An empty binaryPath enables discovery on
// first use.
func NewRuntime(binaryPath string) *Runtime {
	return &Runtime{binaryPath: binaryPath}
}

// findBinary resolves the CLI binary, checking the configured path, then
// common install locations, then PATH. Install locations are checked
// independently of PATH because .app packages ship with a minimal one.
func (r *Runtime) findBinary() string {
	if r.binaryPath != "" {
		return r.binaryPath
	}

	homeDir, _ := os.UserHomeDir()
	candidates := []string{
		"/opt/homebrew/bin/claude",
		"/usr/local/bin/claude",
		filepath.Join(homeDir, ".npm-global", "bin", "claude"),
		filepath.Join(homeDir, ".local", "bin", "claude"),
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}

	if path, err := exec.LookPath("claude"); err == nil {
		return path
	}

	return ""
}

// buildArgs assembles the CLI arguments for one turn request.
func buildArgs(req agent.TurnRequest, bundlePath string) []string {
	args := []string{"-p", req.Prompt}

	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if bundlePath != "" {
		args = append(args, "--capabilities", bundlePath)
	}

	args = append(args,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	)
	return args
}

// StartTurn launches the CLI for one turn and returns its event stream.
// No retries: a failure to launch surfaces immediately to the caller.
func (r *Runtime) StartTurn(ctx context.Context, req agent.TurnRequest) (agent.EventStream, error) {
	binary := r.findBinary()
	if binary == "" {
		return nil, fmt.Errorf("agent runtime unavailable: claude binary not found")
	}

	bundlePath := ""
	if req.Bundle != nil {
		path, err := writeBundleFile(req.Bundle)
		if err != nil {
			return nil, fmt.Errorf("write capability bundle: %w", err)
		}
		bundlePath = path
	}

	cmd := exec.CommandContext(ctx, binary, buildArgs(req, bundlePath)...)
	if req.WorkingDirectory != "" {
		cmd.Dir = req.WorkingDirectory
	}
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start claude: %w", err)
	}

	log.Printf("[Claude] Started turn pid=%d dir=%s", cmd.Process.Pid, cmd.Dir)

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	return &processStream{
		cmd:        cmd,
		scanner:    scanner,
		stderr:     &stderr,
		bundlePath: bundlePath,
	}, nil
}

// writeBundleFile serializes the capability bundle to a temp file the CLI
// can read; handlers are local and never serialized.
func writeBundleFile(bundle *agent.Bundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "cadpilot-capabilities-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// processStream adapts the subprocess's JSONL stdout to agent.EventStream.
type processStream struct {
	cmd        *exec.Cmd
	scanner    *bufio.Scanner
	stderr     *bytes.Buffer
	bundlePath string
	done       bool
}

// Next returns the next JSONL event. On stream exhaustion it reaps the
// process: a clean exit is io.EOF, anything else is an error carrying the
// stderr tail.
func (s *processStream) Next(ctx context.Context) (json.RawMessage, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		return json.RawMessage(line), nil
	}

	s.done = true
	if s.bundlePath != "" {
		os.Remove(s.bundlePath)
	}

	if err := s.scanner.Err(); err != nil {
		s.cmd.Wait()
		return nil, fmt.Errorf("read agent output: %w", err)
	}

	if err := s.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(s.stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("agent runtime failed: %s", msg)
	}

	return nil, io.EOF
}
