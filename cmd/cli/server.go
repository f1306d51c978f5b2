package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/yourusername/episode-offline-go/internal/daemon"
)

const serverBinary = "episode-offline-server"

// autoStart brings up a local server when nothing answers at serverURL
func autoStart() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthURL := serverURL + "/health"
	check, stop := context.WithTimeout(ctx, time.Second)
	healthy := daemon.Healthy(check, http.DefaultClient, healthURL)
	stop()
	if healthy {
		return nil
	}

	path, err := daemon.FindBinary(serverBinary, daemon.DefaultDirs()...)
	if err != nil {
		return err
	}

	fmt.Println("Server not running, starting...")
	if _, err := daemon.Spawn(path, daemon.ServerArgs(serverConfig)...); err != nil {
		return err
	}
	if err := daemon.WaitHealthy(ctx, healthURL, 200*time.Millisecond); err != nil {
		return err
	}

	fmt.Println("Server started")
	return nil
}
