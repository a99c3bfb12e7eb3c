//go:build server

// +build server

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cadpilot/internal/websocket"
)

func main() {
	mode := os.Getenv("CADPILOT_MODE")
	if mode != "websocket" {
		fmt.Println("Error: CADPILOT_MODE must be 'websocket'")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp()
	app.Startup(ctx)

	wsServer := websocket.NewServer(app)

	// route backend events through the WebSocket server
	app.SetEventHubBroadcaster(wsServer)

	port, err := wsServer.Start(ctx)
	if err != nil {
		fmt.Printf("Failed to start WebSocket server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("CADPILOT_WS_READY:port=%d\n", port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	wsServer.Stop(ctx)
	app.Shutdown(ctx)
}
