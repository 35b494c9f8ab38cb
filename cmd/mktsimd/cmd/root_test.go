package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewVersionCmdPrintsVersion(t *testing.T) {
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.String(); got != Version+"\n" {
		t.Errorf("expected the version printed, got %q", got)
	}
}

func TestNewRunCmdRequiresConstantsAndDistributions(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"run"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error running without the required --constants/--distributions flags")
	}
}

func TestOpenSinksLeavesBothNilWhenNoPathsConfigured(t *testing.T) {
	playerAudit, bookSnapshot, err := openSinks(runFlags{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if playerAudit != nil || bookSnapshot != nil {
		t.Error("expected both sinks left nil when no log paths are configured")
	}
}

func TestOpenSinksOpensAndHeadersConfiguredPaths(t *testing.T) {
	dir := t.TempDir()
	f := runFlags{
		playerLogPath: filepath.Join(dir, "player.csv"),
		bookLogPath:   filepath.Join(dir, "book.csv"),
	}

	playerAudit, bookSnapshot, err := openSinks(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer playerAudit.Close()
	defer bookSnapshot.Close()

	if playerAudit == nil || bookSnapshot == nil {
		t.Fatal("expected both sinks opened")
	}
	playerAudit.Close()
	bookSnapshot.Close()

	playerContents, err := os.ReadFile(f.playerLogPath)
	if err != nil {
		t.Fatalf("unexpected error reading player log: %v", err)
	}
	if string(playerContents) == "" {
		t.Error("expected the player audit log to have its header written")
	}
}

func TestOpenSinksErrorsOnUnwritablePath(t *testing.T) {
	f := runFlags{playerLogPath: filepath.Join(t.TempDir(), "missing-dir", "player.csv")}
	if _, _, err := openSinks(f); err == nil {
		t.Fatal("expected an error opening a sink under a nonexistent directory")
	}
}

func TestMetricsMuxServesHealthzAndMetrics(t *testing.T) {
	mux := metricsMux()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("expected /healthz to return 200 \"ok\", got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected /metrics to return 200, got %d", rec.Code)
	}
}
