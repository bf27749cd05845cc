package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/szlapakariel-ux/auditoria-sofse/internal/cfg"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestBuildProviders_Order(t *testing.T) {
	t.Parallel()

	c := &vc.Config{
		ClaudeAPIKey:  "sk-ant",
		ClaudeModel:   "claude-sonnet-4-20250514",
		OpenAIAPIKey:  "sk-oai",
		OpenAIModel:   "gpt-4o-mini",
		OpenAIBaseURL: "http://localhost:1/v1",
	}
	providers, closeAll, err := buildProviders(context.Background(), c, log.Nop())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer closeAll()

	var names []string
	for _, p := range providers {
		names = append(names, p.Name())
	}
	if got := strings.Join(names, ","); got != "anthropic,openai" {
		t.Errorf("providers = %q, want %q", got, "anthropic,openai")
	}
}

func TestBuildProviders_None(t *testing.T) {
	t.Parallel()

	providers, closeAll, err := buildProviders(context.Background(), &vc.Config{}, log.Nop())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	closeAll()
	if len(providers) != 0 {
		t.Errorf("len(providers) = %d, want 0", len(providers))
	}
}
