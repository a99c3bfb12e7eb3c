// internal/compiler/openscad.go
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Result is the outcome of one geometry compilation.
type Result struct {
	Success     bool              `json:"success"`
	Artifact    []byte            `json:"-"` // mesh bytes, nil on failure
	Aux         map[string]string `json:"aux,omitempty"`
	Diagnostics string            `json:"diagnostics"`
	DurationMs  int64             `json:"duration_ms"`
}

// Compiler wraps the native OpenSCAD binary. It is invoked by capability
// handlers, never directly by the agent subsystem.
type Compiler struct {
	binaryPath string
	timeout    time.Duration
}

// New creates a compiler; an empty binaryPath enables discovery on first
// use, timeout <= 0 selects a 60s default.
func New(binaryPath string, timeout time.Duration) *Compiler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Compiler{binaryPath: binaryPath, timeout: timeout}
}

// findBinary resolves the OpenSCAD binary across common install locations
// and PATH.
func (c *Compiler) findBinary() string {
	if c.binaryPath != "" {
		return c.binaryPath
	}

	candidates := []string{
		"/usr/bin/openscad",
		"/usr/local/bin/openscad",
		"/opt/homebrew/bin/openscad",
		"/Applications/OpenSCAD.app/Contents/MacOS/OpenSCAD",
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}

	if path, err := exec.LookPath("openscad"); err == nil {
		return path
	}
	return ""
}

// Compile renders sourceText to a binary STL mesh. Compiler diagnostics
// are always returned, success or not; a non-zero exit is a failed
// compile, not an error.
func (c *Compiler) Compile(ctx context.Context, sourceText string) (*Result, error) {
	return c.run(ctx, sourceText, "stl", nil)
}

// RenderPreview rasterizes sourceText to a PNG for the viewer and for
// capabilities that hand the agent a look at the model.
func (c *Compiler) RenderPreview(ctx context.Context, sourceText string, width, height int) (*Result, error) {
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 600
	}
	extra := []string{"--imgsize", fmt.Sprintf("%d,%d", width, height)}
	return c.run(ctx, sourceText, "png", extra)
}

func (c *Compiler) run(ctx context.Context, sourceText, format string, extraArgs []string) (*Result, error) {
	binary := c.findBinary()
	if binary == "" {
		return nil, fmt.Errorf("openscad binary not found")
	}

	workDir, err := os.MkdirTemp("", "cadpilot-compile-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	sourcePath := filepath.Join(workDir, "model.scad")
	if err := os.WriteFile(sourcePath, []byte(sourceText), 0644); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}
	outPath := filepath.Join(workDir, "model."+format)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append([]string{"-o", outPath}, extraArgs...)
	args = append(args, sourcePath)
	cmd := exec.CommandContext(ctx, binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	result := &Result{
		Success:     runErr == nil,
		Diagnostics: stderr.String(),
		Aux:         parseDiagnostics(stderr.String()),
		DurationMs:  elapsed,
	}

	if runErr != nil {
		log.Printf("[Compiler] Compile failed after %dms: %v", elapsed, runErr)
		return result, nil
	}

	artifact, err := os.ReadFile(outPath)
	if err != nil {
		result.Success = false
		result.Diagnostics += fmt.Sprintf("\nfailed to read artifact: %v", err)
		return result, nil
	}
	result.Artifact = artifact

	return result, nil
}

// parseDiagnostics pulls the geometry summary lines OpenSCAD prints on
// stderr ("Vertices: 8", "Facets: 12", ...) into a key/value map.
func parseDiagnostics(diagnostics string) map[string]string {
	aux := make(map[string]string)
	for _, line := range strings.Split(diagnostics, "\n") {
		line = strings.TrimSpace(line)
		for _, key := range []string{"Vertices", "Facets", "Edges", "Volumes", "Geometries in cache"} {
			prefix := key + ":"
			if strings.HasPrefix(line, prefix) {
				aux[key] = strings.TrimSpace(strings.TrimPrefix(line, prefix))
			}
		}
	}
	if len(aux) == 0 {
		return nil
	}
	return aux
}

// CountWarnings reports how many WARNING lines the diagnostics contain.
func CountWarnings(diagnostics string) int {
	count := 0
	for _, line := range strings.Split(diagnostics, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "WARNING:") {
			count++
		}
	}
	return count
}
