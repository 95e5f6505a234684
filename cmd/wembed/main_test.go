package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/wembed/internal/config"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/runner"
	"github.com/hyperjump/wembed/internal/storage"
)

// resetFlags restores every package-level flag value; cobra keeps them between executions.
func resetFlags() {
	configPath, debugFlag, outputFormat = "", false, "text"
	scanSource.reset()
	runSource.reset()
	runForce, runSkipDocuments = false, false
	documentsForce, documentsLimit = false, 0
	filesPath, filesStatus, filesAll, filesEligible, filesLimit = "", "", false, false, 100
	statusServer = ""
	configInitForce = false
	watchServer, watchNoSync = "http://localhost:8080", false
	serveHost, servePort, serveNoWatch = "", 0, false
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

// testConfigFile writes a config using the offline hash embedder and a temp database.
func testConfigFile(t *testing.T) string {
	t.Helper()
	t.Setenv(config.EnvRemoteDSN, "")
	t.Setenv(config.EnvPGURL, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  local_path: "./wembed.db"
process:
  host: test-host
  user: tester
documents:
  chunk_size: 60
  chunk_overlap: 10
embedding:
  provider: hash
  dimensions: 16
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestVersionCmd_Executes(t *testing.T) {
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	out, err := execute(t, "version")
	assert.NoError(t, err)
	assert.Contains(t, out, "wembed version test-version-1.0.0")
}

func TestConfigInit(t *testing.T) {
	t.Setenv(config.EnvRemoteDSN, "")
	t.Setenv(config.EnvPGURL, "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.ProviderHash, cfg.Embedding.Provider)

	_, err = execute(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", path, "--force")
	assert.NoError(t, err)
}

func TestConfigShow_RedactsDSN(t *testing.T) {
	cfgPath := testConfigFile(t)
	t.Setenv(config.EnvRemoteDSN, "postgres://user:secret@db/wembed")

	out, err := execute(t, "config", "show", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "# "+cfgPath)
	assert.Contains(t, out, "<redacted>")
	assert.NotContains(t, out, "secret")
}

func TestLoadConfig_Fallbacks(t *testing.T) {
	t.Setenv(config.EnvRemoteDSN, "")
	t.Setenv(config.EnvPGURL, "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".wembed", "config.yaml"), path)
	assert.NotNil(t, cfg)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	writeFile(t, filepath.Join(cwd, "config.yaml"), "server:\n  port: 9123\n")
	cfg, path, err = loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "config.yaml"), path)
	assert.Equal(t, 9123, cfg.Server.Port)

	_, _, err = loadConfig(filepath.Join(cwd, "missing.yaml"))
	assert.Error(t, err)
}

func TestRunStatusFiles(t *testing.T) {
	cfgPath := testConfigFile(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha beta gamma delta epsilon zeta eta theta")
	writeFile(t, filepath.Join(root, "notes", "b.md"), "# Notes\n\nSome notes worth embedding.\n")

	out, err := execute(t, "run", "repo", root, "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Source: ")
	assert.Contains(t, out, "2 total: 2 succeeded")

	out, err = execute(t, "status", "-c", cfgPath, "-o", "json")
	require.NoError(t, err)
	var st struct {
		Backend string        `json:"backend"`
		Stats   storage.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	assert.Equal(t, "sqlite", st.Backend)
	assert.Equal(t, int64(2), st.Stats.FileRecords)
	assert.Equal(t, int64(2), st.Stats.FilesByStatus[models.StatusComplete])

	out, err = execute(t, "files", "-c", cfgPath, "-o", "json")
	require.NoError(t, err)
	var recs []*models.FileRecord
	require.NoError(t, json.Unmarshal([]byte(out), &recs), out)
	require.Len(t, recs, 2)

	var md *models.FileRecord
	for _, r := range recs {
		if r.Name == "b.md" {
			md = r
		}
	}
	require.NotNil(t, md)
	out, err = execute(t, "files", md.ID, "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "b.md")

	out, err = execute(t, "files", "-c", cfgPath, "--path", filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
	assert.NotContains(t, out, "b.md")

	_, err = execute(t, "files", "-c", cfgPath, "--status", "bogus")
	assert.ErrorContains(t, err, "unknown status")

	_, err = execute(t, "files", "no-such-id", "-c", cfgPath)
	assert.ErrorContains(t, err, "no file record")
}

func TestScanProcessDocuments(t *testing.T) {
	cfgPath := testConfigFile(t)
	root := t.TempDir()
	a := filepath.Join(root, "a.txt")
	writeFile(t, a, "one file, listed explicitly")
	writeFile(t, filepath.Join(root, "skipped.txt"), "not listed")

	out, err := execute(t, "scan", "list", a, "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 entries: 1 ok")

	out, err = execute(t, "process", "-c", cfgPath, "-o", "json")
	require.NoError(t, err)
	var sum models.BatchSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Equal(t, 1, sum.Succeeded)

	out, err = execute(t, "documents", "-c", cfgPath, "-o", "json")
	require.NoError(t, err)
	sum = models.BatchSummary{}
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Equal(t, 1, sum.Succeeded)

	out, err = execute(t, "documents", "-c", cfgPath, "-o", "json")
	require.NoError(t, err)
	sum = models.BatchSummary{}
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Zero(t, sum.Succeeded, "complete documents are not regenerated")
}

func TestRun_DiscoverVaults(t *testing.T) {
	cfgPath := testConfigFile(t)
	base := t.TempDir()
	for _, v := range []string{"work", "personal"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, v, ".obsidian"), 0755))
		writeFile(t, filepath.Join(base, v, "index.md"), "# "+v+"\n\nvault index\n")
	}

	out, err := execute(t, "run", "vault", "--discover", base, "-c", cfgPath, "-o", "json")
	require.NoError(t, err)
	var results []*runner.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, models.SourceVault, res.Source.Kind)
		assert.Equal(t, 1, res.Documents.Succeeded)
	}
}

func TestRun_BadArguments(t *testing.T) {
	cfgPath := testConfigFile(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown kind", []string{"run", "nope", t.TempDir()}},
		{"missing path", []string{"run", "repo"}},
		{"missing root", []string{"run", "repo", filepath.Join(t.TempDir(), "gone")}},
		{"nothing discovered", []string{"run", "repo", "--discover", t.TempDir()}},
		{"bad output", []string{"run", "repo", t.TempDir(), "-o", "yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append(tt.args, "-c", cfgPath)...)
			assert.Error(t, err)
		})
	}
}

func TestStatus_FromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"backend":"postgres","fell_back":false,"disk_usage_bytes":1024,
			"stats":{"file_records":7,"chunks":3},"config":{"local_path":"/data/wembed.db"}}`))
	}))
	defer srv.Close()
	cfgPath := testConfigFile(t)

	out, err := execute(t, "status", "--server", srv.URL, "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Backend:      postgres")
	assert.Contains(t, out, "/data/wembed.db (1.0 KiB)")
	assert.Contains(t, out, "Files:        7")
}

func TestWatchClient(t *testing.T) {
	dirs := []string{"/srv/docs"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"directories": dirs})
		case http.MethodPost:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"directory not found"}`))
		case http.MethodDelete:
			assert.NotEmpty(t, r.URL.Query().Get("path"))
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	out, err := execute(t, "watch", "list", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "/srv/docs\n", out)

	_, err = execute(t, "watch", "add", t.TempDir(), "--server", srv.URL)
	assert.ErrorContains(t, err, "directory not found")

	out, err = execute(t, "watch", "remove", "/srv/docs", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed: /srv/docs")
}
