package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-sync/internal/transport/http"
)

func TestTokenCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "token", "u1", "--username", "alice"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	cfg := config.Default()
	claims, err := auth.ValidateToken(transporthttp.JWTConfig(&cfg), strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if claims.UserID() != "u1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestClientCommandsNeedToken(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	for _, args := range [][]string{
		{"inbox"},
		{"contacts", "list"},
		{"contacts", "add", "bob@example.com"},
		{"contacts", "directory"},
	} {
		root := newRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "no token") {
			t.Errorf("%v: expected missing token error, got %v", args, err)
		}
	}
}

func TestContactsCommands(t *testing.T) {
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	messages := realtime.NewHub[*store.Message]()
	changes := realtime.NewHub[*store.Change]()
	svc := backend.NewService(st, messages, changes)
	cfg := config.Default()
	logger := zerolog.Nop()
	ts := httptest.NewServer(transporthttp.NewRouter(svc, &cfg, &logger))
	t.Cleanup(func() {
		ts.Close()
		_ = messages.Close()
		_ = changes.Close()
		_ = st.Close()
	})

	if _, err := svc.As("u2").UpsertProfile(context.Background(), store.Profile{Username: "bob", Email: "bob@example.com"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	token, err := auth.GenerateToken(transporthttp.JWTConfig(&cfg), "u1", "alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	run := func(args ...string) string {
		t.Helper()
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append([]string{"--config", cfgPath, "--server", ts.URL, "--token", token}, args...))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	if out := run("contacts", "add", "bob@example.com"); !strings.Contains(out, "added bob") {
		t.Fatalf("unexpected add output %q", out)
	}
	if out := run("contacts", "list"); !strings.Contains(out, "u2") || !strings.Contains(out, "bob@example.com") {
		t.Fatalf("unexpected list output %q", out)
	}
	if out := run("contacts", "directory"); !strings.Contains(out, "bob") {
		t.Fatalf("unexpected directory output %q", out)
	}
	run("contacts", "remove", "u2")
	if out := run("contacts", "list"); !strings.Contains(out, "no contacts") {
		t.Fatalf("expected empty list, got %q", out)
	}
}
