package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cyclemetry/internal/testsupport"
)

type cliTestEnv struct {
	backend    *testsupport.Backend
	configPath string
	baseDir    string
	stateDir   string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("CYCLEMETRY_HTTP_URL", "")
	t.Setenv("CYCLEMETRY_BRIDGE_SOCKET", "")

	be := testsupport.NewBackend(t)
	env := &cliTestEnv{
		backend:    be,
		configPath: filepath.Join(base, "config.toml"),
		baseDir:    base,
		stateDir:   filepath.Join(base, "state"),
	}
	writeTestConfig(t, env)
	return env
}

// writeTestConfig disables auto-render so a one-shot command only calls the
// preview route when asked to.
func writeTestConfig(t *testing.T, env *cliTestEnv) {
	t.Helper()
	content := fmt.Sprintf(`[backend]
http_url = %q
bridge_socket = ""
backend_socket = %q
request_timeout = "5s"

[paths]
state_dir = %q
log_dir = %q

[connectivity]
probe_interval = "20ms"
probe_timeout = "1s"

[preview]
auto_render = false
debounce = "20ms"
startup_grace = "0s"

[render]
poll_interval = "10ms"
open_on_complete = true

[timeline]
input_debounce = "20ms"
`,
		env.backend.URL,
		filepath.Join(env.baseDir, "backend.sock"),
		env.stateDir,
		filepath.Join(env.baseDir, "logs"),
	)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mustRunCLI(t *testing.T, env *cliTestEnv, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, env, args...)
	if err != nil {
		t.Fatalf("%s: %v\nstdout: %s\nstderr: %s", strings.Join(args, " "), err, out, stderr)
	}
	return out
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}
