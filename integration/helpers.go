//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// FixturesDir returns the path to the fixtures directory
func FixturesDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(filename), "fixtures")
}

// ChainFixture returns the path of a chain file under fixtures/chains
func ChainFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(FixturesDir(t), "chains", name)
}

// binaryPath returns the path to the built CLI binary, building it if needed
func binaryPath(t *testing.T) string {
	t.Helper()
	paths := []string{
		"../chain-orch",
		filepath.Join(os.Getenv("GOPATH"), "bin", "chain-orch"),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../chain-orch", "../cmd/chain-orch")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}
	abs, _ := filepath.Abs("../chain-orch")
	return abs
}

// testEnv is a CLI pointed at a throwaway database
type testEnv struct {
	binary string
	config string
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	config := `[general]
database_path = "` + filepath.Join(dir, "chains.db") + `"

[notifications]
desktop = false

[web]
port = 18080
host = "127.0.0.1"

[logging]
level = "error"
`
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return &testEnv{binary: binaryPath(t), config: configPath, dir: dir}
}

// run executes the CLI and returns its combined output
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	args = append(args, "--config", e.config)
	cmd := exec.Command(e.binary, args...)
	cmd.Dir = e.dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// mustRun fails the test when the command exits non-zero
func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// importFixtures imports the named chain fixtures
func (e *testEnv) importFixtures(t *testing.T, names ...string) {
	t.Helper()
	args := []string{"import"}
	for _, n := range names {
		args = append(args, ChainFixture(t, n))
	}
	e.mustRun(t, args...)
}
