package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/al-bashkir/implicit-session/internal/ipc"
	"github.com/al-bashkir/implicit-session/internal/session"
)

func writeTestConfig(t *testing.T, path string, socketPath string) {
	t.Helper()

	data := fmt.Sprintf(`listen:
  http: "127.0.0.1:0"
  socket: %q
oidc:
  authorize_url: "https://project.supabase.co/auth/v1/authorize"
  client_id: "test-client"
  redirect_uri: "http://127.0.0.1:8952/redirect"
  scopes:
    - email
  auth_params:
    provider: google
storage:
  driver: memory
log:
  level: "info"
  format: "json"
`, socketPath)

	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

// useConfig points the global flags at a fresh test config and restores
// them afterwards.
func useConfig(t *testing.T, cfgPath string) {
	t.Helper()

	oldCfg, oldExit, oldJSON := configFile, overrideExitCode, jsonOutput
	t.Cleanup(func() {
		configFile, overrideExitCode, jsonOutput = oldCfg, oldExit, oldJSON
	})
	configFile = cfgPath
	overrideExitCode = -1
	jsonOutput = false
}

func startDaemon(t *testing.T, socketPath string, handler ipc.RequestHandler) {
	t.Helper()

	server := ipc.NewServer(socketPath, handler)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start IPC server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("server.Stop failed: %v", err)
		}
	})
}

func TestRunCheckConfig_Valid(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	writeTestConfig(t, cfgPath, filepath.Join(tmpDir, "control.sock"))
	useConfig(t, cfgPath)

	if err := runCheckConfig(nil, nil); err != nil {
		t.Fatalf("runCheckConfig failed: %v", err)
	}
	if overrideExitCode != -1 {
		t.Fatalf("overrideExitCode = %d, want -1 (unset)", overrideExitCode)
	}
}

func TestRunCheckConfig_Invalid(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")

	// Missing both oidc.issuer and oidc.authorize_url
	data := `listen:
  http: "127.0.0.1:0"
  socket: "/tmp/test.sock"
oidc:
  client_id: "test-client"
  redirect_uri: "http://127.0.0.1:8952/redirect"
log:
  level: "info"
  format: "json"
`
	if err := os.WriteFile(cfgPath, []byte(data), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	useConfig(t, cfgPath)

	if err := runCheckConfig(nil, nil); err != nil {
		t.Fatalf("runCheckConfig returned unexpected error: %v", err)
	}
	if overrideExitCode != ExitConfig {
		t.Fatalf("overrideExitCode = %d, want %d (ExitConfig)", overrideExitCode, ExitConfig)
	}
}

func TestCheckConfig_ReportsEachProblem(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	data := `oidc:
  authorize_url: "https://idp.example.com/authorize"
  redirect_uri: "http://127.0.0.1:8952/redirect"
storage:
  driver: etcd
`
	if err := os.WriteFile(cfgPath, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := checkConfig(&stdout, &stderr, cfgPath); code != ExitConfig {
		t.Fatalf("checkConfig() = %d, want %d", code, ExitConfig)
	}

	out := stderr.String()
	for _, want := range []string{"oidc.client_id is required", "storage.driver must be one of"} {
		if !strings.Contains(out, want) {
			t.Errorf("stderr %q does not mention %q", out, want)
		}
	}
	if strings.Count(out, "\n   ") < 2 {
		t.Errorf("expected one line per problem, got %q", out)
	}
}

func TestCheckConfig_Summary(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	writeTestConfig(t, cfgPath, filepath.Join(tmpDir, "control.sock"))

	var stdout, stderr bytes.Buffer
	if code := checkConfig(&stdout, &stderr, cfgPath); code != ExitSuccess {
		t.Fatalf("checkConfig() = %d, stderr %q", code, stderr.String())
	}
	for _, want := range []string{
		"Authorize URL:   https://project.supabase.co/auth/v1/authorize",
		"Storage:         memory (not persisted)",
		"Ready to start daemon",
	} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, stdout.String())
		}
	}
}

func TestRunServe_ConfigLoadFailure(t *testing.T) {
	useConfig(t, filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	if err := runServe(nil, nil); err == nil {
		t.Fatal("expected runServe to fail, got nil")
	}
}

func TestRunVersion(t *testing.T) {
	oldVersion, oldCommit, oldBuildDate := version, commit, buildDate
	t.Cleanup(func() {
		version, commit, buildDate = oldVersion, oldCommit, oldBuildDate
	})

	version = "1.2.3"
	commit = "deadbeef"
	buildDate = "2026-02-17"

	runVersion(nil, nil)
}

func TestRunLoginURL(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	writeTestConfig(t, cfgPath, filepath.Join(tmpDir, "control.sock"))
	useConfig(t, cfgPath)

	if err := runLoginURL(nil, nil); err != nil {
		t.Fatalf("runLoginURL failed: %v", err)
	}
	if overrideExitCode != -1 {
		t.Fatalf("overrideExitCode = %d, want -1 (unset)", overrideExitCode)
	}

	useConfig(t, filepath.Join(tmpDir, "missing.yaml"))
	if err := runLoginURL(nil, nil); err != nil {
		t.Fatalf("runLoginURL returned unexpected error: %v", err)
	}
	if overrideExitCode != ExitConfig {
		t.Fatalf("overrideExitCode = %d, want %d (ExitConfig)", overrideExitCode, ExitConfig)
	}
}

func TestRunStatus(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "control.sock")
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	writeTestConfig(t, cfgPath, socketPath)

	summary := session.Summary{}
	startDaemon(t, socketPath, func(ctx context.Context, req *ipc.Request) (*ipc.SessionResponse, error) {
		return ipc.NewSessionResponse(summary), nil
	})

	useConfig(t, cfgPath)
	if err := runStatus(nil, nil); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if overrideExitCode != ExitNoSession {
		t.Fatalf("overrideExitCode = %d, want %d", overrideExitCode, ExitNoSession)
	}
}

func TestRunStatus_NoDaemon(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	writeTestConfig(t, cfgPath, filepath.Join(tmpDir, "control.sock"))
	useConfig(t, cfgPath)

	if err := runStatus(nil, nil); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if overrideExitCode != ExitError {
		t.Fatalf("overrideExitCode = %d, want %d", overrideExitCode, ExitError)
	}
}

func TestRunSubmit(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "control.sock")
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	writeTestConfig(t, cfgPath, socketPath)

	fragments := make(chan string, 2)
	startDaemon(t, socketPath, func(ctx context.Context, req *ipc.Request) (*ipc.SessionResponse, error) {
		fragments <- req.Fragment
		return ipc.NewSessionResponse(session.Summary{Authenticated: true, Subject: "u-1", Email: "a@b.com"}), nil
	})

	t.Run("argument", func(t *testing.T) {
		useConfig(t, cfgPath)

		if err := runSubmit(nil, []string{"http://127.0.0.1:8952/redirect#access_token=x&refresh_token=y"}); err != nil {
			t.Fatalf("runSubmit failed: %v", err)
		}
		if overrideExitCode != ExitSuccess {
			t.Fatalf("overrideExitCode = %d, want %d", overrideExitCode, ExitSuccess)
		}
		if got := <-fragments; got != "#access_token=x&refresh_token=y" {
			t.Errorf("daemon received %q", got)
		}
	})

	t.Run("stdin", func(t *testing.T) {
		useConfig(t, cfgPath)

		oldStdin := stdin
		t.Cleanup(func() { stdin = oldStdin })
		stdin = strings.NewReader("#access_token=from-stdin&refresh_token=y\n")

		if err := runSubmit(nil, []string{"-"}); err != nil {
			t.Fatalf("runSubmit failed: %v", err)
		}
		if got := <-fragments; got != "#access_token=from-stdin&refresh_token=y" {
			t.Errorf("daemon received %q", got)
		}
	})
}

func TestRunFragment(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u-1","email":"a@b.com"}`))

	tests := []struct {
		name     string
		fragment string
		wantCode int
	}{
		{
			name:     "yields a session",
			fragment: "#access_token=h." + payload + ".s&refresh_token=r",
			wantCode: -1,
		},
		{
			name:     "missing refresh token",
			fragment: "#access_token=h." + payload + ".s",
			wantCode: ExitNoSession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useConfig(t, filepath.Join(t.TempDir(), "missing.yaml"))

			if err := runFragment(nil, []string{tt.fragment}); err != nil {
				t.Fatalf("runFragment failed: %v", err)
			}
			if overrideExitCode != tt.wantCode {
				t.Errorf("overrideExitCode = %d, want %d", overrideExitCode, tt.wantCode)
			}
		})
	}
}
