// internal/tools/builtin.go
package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cadpilot/internal/agent"
	"cadpilot/internal/compiler"
)

// Snapshotter records the pre-edit state of a file before a capability
// writes to it. Backed by the current turn's checkpoint scope.
type Snapshotter interface {
	Snapshot(path string)
}

// ImageSource hands out (and clears) the pending user image attachments.
type ImageSource interface {
	TakePendingImages() []agent.ImageAttachment
}

// Deps are the collaborators the built-in capabilities need. Scope is a
// provider because the checkpoint scope changes every turn.
type Deps struct {
	ProjectRoot string
	Scope       func() Snapshotter
	Compiler    *compiler.Compiler
	Images      ImageSource
}

// RegisterBuiltins registers the standard capability set on the given
// registry.
func RegisterBuiltins(reg *agent.Registry, deps Deps) {
	reg.Register(agent.ToolDefinition{
		Name:        "read_file",
		Description: "Read the contents of a file in the project",
		InputSchema: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "Path relative to the project root"},
			},
			"required": []string{"path"},
		}),
		Handler: deps.readFile,
	})

	reg.Register(agent.ToolDefinition{
		Name:        "write_file",
		Description: "Create or overwrite a file with the given content",
		InputSchema: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":    map[string]interface{}{"type": "string", "description": "Path relative to the project root"},
				"content": map[string]interface{}{"type": "string", "description": "Full file content to write"},
			},
			"required": []string{"path", "content"},
		}),
		Handler: deps.writeFile,
	})

	reg.Register(agent.ToolDefinition{
		Name:        "edit_file",
		Description: "Edit a file by replacing old_text with new_text (exact match, first occurrence)",
		InputSchema: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":     map[string]interface{}{"type": "string"},
				"old_text": map[string]interface{}{"type": "string"},
				"new_text": map[string]interface{}{"type": "string"},
			},
			"required": []string{"path", "old_text", "new_text"},
		}),
		Handler: deps.editFile,
	})

	reg.Register(agent.ToolDefinition{
		Name:        "list_dir",
		Description: "List files in a project directory",
		InputSchema: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "Directory relative to the project root (default: root)"},
			},
		}),
		Handler: deps.listDir,
	})

	reg.Register(agent.ToolDefinition{
		Name:        "compile_model",
		Description: "Compile an OpenSCAD source file and report diagnostics",
		InputSchema: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "Path to the .scad file to compile"},
			},
			"required": []string{"path"},
		}),
		Handler: deps.compileModel,
	})

	reg.Register(agent.ToolDefinition{
		Name:        "render_preview",
		Description: "Render a preview image of an OpenSCAD source file",
		InputSchema: mustMarshal(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "Path to the .scad file to render"},
			},
			"required": []string{"path"},
		}),
		Handler: deps.renderPreview,
	})

	reg.Register(agent.ToolDefinition{
		Name:        "get_user_images",
		Description: "Retrieve the images the user attached to the current message",
		InputSchema: mustMarshal(map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}),
		Handler: deps.getUserImages,
	})
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal schema: %v", err))
	}
	return data
}

func stringArg(input map[string]interface{}, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func errOutput(format string, args ...interface{}) agent.ToolOutput {
	return agent.ToolOutput{Content: fmt.Sprintf(format, args...), IsError: true}
}

// resolvePath anchors a capability-supplied path under the project root
// and rejects traversal outside it.
func (d *Deps) resolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}
	if filepath.IsAbs(path) {
		if !strings.HasPrefix(path, d.ProjectRoot) {
			return "", fmt.Errorf("path outside project: %s", path)
		}
		return path, nil
	}
	return filepath.Join(d.ProjectRoot, path), nil
}

func (d *Deps) readFile(ctx context.Context, input map[string]interface{}) agent.ToolOutput {
	path, err := d.resolvePath(stringArg(input, "path"))
	if err != nil {
		return errOutput("%v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errOutput("read %s: %v", path, err)
	}
	return agent.ToolOutput{Content: string(data)}
}

func (d *Deps) writeFile(ctx context.Context, input map[string]interface{}) agent.ToolOutput {
	path, err := d.resolvePath(stringArg(input, "path"))
	if err != nil {
		return errOutput("%v", err)
	}
	content, ok := input["content"].(string)
	if !ok {
		return errOutput("content is required")
	}

	// snapshot the pre-edit state before touching the file
	if scope := d.Scope(); scope != nil {
		scope.Snapshot(path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errOutput("create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errOutput("write %s: %v", path, err)
	}
	return agent.ToolOutput{Content: fmt.Sprintf("File written: %s", path)}
}

func (d *Deps) editFile(ctx context.Context, input map[string]interface{}) agent.ToolOutput {
	path, err := d.resolvePath(stringArg(input, "path"))
	if err != nil {
		return errOutput("%v", err)
	}
	oldText := stringArg(input, "old_text")
	newText := stringArg(input, "new_text")
	if oldText == "" {
		return errOutput("old_text is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errOutput("read %s: %v", path, err)
	}
	content := string(data)
	if !strings.Contains(content, oldText) {
		return errOutput("text not found in %s", path)
	}

	if scope := d.Scope(); scope != nil {
		scope.Snapshot(path)
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return errOutput("write %s: %v", path, err)
	}
	return agent.ToolOutput{Content: fmt.Sprintf("File edited: %s", path)}
}

func (d *Deps) listDir(ctx context.Context, input map[string]interface{}) agent.ToolOutput {
	rel := stringArg(input, "path")
	if rel == "" {
		rel = "."
	}
	path, err := d.resolvePath(rel)
	if err != nil {
		return errOutput("%v", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return errOutput("list %s: %v", path, err)
	}

	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	return agent.ToolOutput{Content: strings.Join(lines, "\n")}
}

func (d *Deps) compileModel(ctx context.Context, input map[string]interface{}) agent.ToolOutput {
	path, err := d.resolvePath(stringArg(input, "path"))
	if err != nil {
		return errOutput("%v", err)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return errOutput("read %s: %v", path, err)
	}

	result, err := d.Compiler.Compile(ctx, string(source))
	if err != nil {
		return errOutput("compile: %v", err)
	}

	summary := fmt.Sprintf("Compile %s in %dms\n%s",
		map[bool]string{true: "succeeded", false: "failed"}[result.Success],
		result.DurationMs, result.Diagnostics)
	return agent.ToolOutput{Content: strings.TrimSpace(summary), IsError: !result.Success}
}

func (d *Deps) renderPreview(ctx context.Context, input map[string]interface{}) agent.ToolOutput {
	path, err := d.resolvePath(stringArg(input, "path"))
	if err != nil {
		return errOutput("%v", err)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return errOutput("read %s: %v", path, err)
	}

	result, err := d.Compiler.RenderPreview(ctx, string(source), 0, 0)
	if err != nil {
		return errOutput("render: %v", err)
	}
	if !result.Success {
		return errOutput("render failed:\n%s", result.Diagnostics)
	}

	return agent.ToolOutput{
		Content:   fmt.Sprintf("Rendered preview of %s", path),
		ImageData: base64.StdEncoding.EncodeToString(result.Artifact),
	}
}

func (d *Deps) getUserImages(ctx context.Context, input map[string]interface{}) agent.ToolOutput {
	if d.Images == nil {
		return errOutput("no image source available")
	}

	images := d.Images.TakePendingImages()
	if len(images) == 0 {
		return agent.ToolOutput{Content: "No images attached to the current message."}
	}

	// the result shape carries at most one image; the first wins, the
	// rest are described
	out := agent.ToolOutput{
		Content:   fmt.Sprintf("Retrieved %d attached image(s).", len(images)),
		ImageData: images[0].Data,
	}
	return out
}
