//go:build !server

// +build !server

package main

import (
	"embed"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
)

// FileLoader serves local files (rendered previews, exported meshes) to
// the frontend.
type FileLoader struct{}

// NewFileLoader creates a new FileLoader instance.
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

// ServeHTTP handles HTTP requests for local files.
func (f *FileLoader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/wails-local-file/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	requestedPath := strings.TrimPrefix(r.URL.Path, "/wails-local-file")

	decodedPath, err := url.PathUnescape(requestedPath)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Could not decode path: %s", requestedPath)
		return
	}

	// Only allow access to known directories
	homeDir, _ := os.UserHomeDir()
	allowedPrefixes := []string{
		filepath.Join(homeDir, ".cadpilot") + "/",
		"/tmp/",
		os.TempDir() + "/",
	}

	allowed := false
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(decodedPath, prefix) {
			allowed = true
			break
		}
	}

	if !allowed {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintf(w, "Forbidden: %s", decodedPath)
		return
	}

	fileData, err := os.ReadFile(decodedPath)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Could not load file: %s", decodedPath)
		return
	}

	ext := strings.ToLower(filepath.Ext(decodedPath))
	contentType := "application/octet-stream"
	switch ext {
	case ".png":
		contentType = "image/png"
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".svg":
		contentType = "image/svg+xml"
	case ".stl":
		contentType = "model/stl"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(fileData)
}

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	app := NewApp()

	err := wails.Run(&options.App{
		Title:     "cadpilot",
		Width:     1280,
		Height:    800,
		MinWidth:  1100,
		MinHeight: 700,
		AssetServer: &assetserver.Options{
			Assets:  assets,
			Handler: NewFileLoader(),
		},
		BackgroundColour:         &options.RGBA{R: 0, G: 0, B: 0, A: 0},
		EnableDefaultContextMenu: true,
		LogLevel:                 logger.DEBUG,
		LogLevelProduction:       logger.INFO,
		OnStartup:                app.startup,
		OnShutdown:               app.shutdown,
		Bind: []interface{}{
			app,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: true,
				HideTitle:                  true,
				FullSizeContent:            true,
			},
			WebviewIsTransparent: true,
			WindowIsTranslucent:  true,
		},
		Windows: &windows.Options{
			WebviewIsTransparent: true,
			WindowIsTranslucent:  false,
		},
	})

	if err != nil {
		println("Error:", err.Error())
	}
}
