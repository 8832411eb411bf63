package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallnest/tracker/config"
	"github.com/smallnest/tracker/gateway"
	"github.com/smallnest/tracker/tracker"
)

// SetupTestGateway starts a gateway on an ephemeral port backed by a fresh data dir
func SetupTestGateway(t *testing.T) (*gateway.Server, *tracker.Service, func()) {
	t.Helper()

	dir := t.TempDir()
	store, err := tracker.NewSQLiteStore(filepath.Join(dir, "tracker.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	files, err := tracker.NewFileStore(filepath.Join(dir, "attachments"), tracker.DefaultPublicPrefix, tracker.DefaultMaxUploadBytes, store)
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	svc := tracker.NewService(store, store, files)

	cfg := &config.GatewayConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		WebSocket: config.WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			PingInterval:   30 * time.Second,
			PongTimeout:    60 * time.Second,
			MaxMessageSize: 1 << 20,
		},
	}

	server := gateway.NewServer(cfg, svc, files)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := server.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Failed to start server: %v", err)
	}

	cleanup := func() {
		_ = server.Stop()
		cancel()
		_ = store.Close()
	}

	return server, svc, cleanup
}

// WaitForCondition waits for a condition to be true
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition")
		case <-ticker.C:
		}
	}
}
