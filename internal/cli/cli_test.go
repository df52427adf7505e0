package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	uploaded []string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "NRAK-TEST" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"sourcemaps":[{"id":"sm-1","javascriptUrl":"https://cdn.example.com/app.js","releaseName":"v1"}]}`)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		jsURL := r.FormValue("javascriptUrl")
		f.mu.Lock()
		f.uploaded = append(f.uploaded, jsURL)
		f.mu.Unlock()
		switch {
		case strings.HasSuffix(jsURL, "/vendor.js"):
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"code":409,"message":"already exists"}`)
		case strings.HasSuffix(jsURL, "/broken.js"):
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"code":500,"message":"internal"}`)
		default:
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"new"}`)
		}
	})
}

func setEnv(t *testing.T, apiURL string) {
	t.Helper()
	t.Setenv("NEWRELIC_ENABLED", "true")
	t.Setenv("NEWRELIC_APPLICATION_ID", "601561630")
	t.Setenv("NEWRELIC_API_KEY", "NRAK-TEST")
	t.Setenv("NEWRELIC_SOURCEMAP_URL", apiURL)
	t.Setenv("VITE_PLUGIN_JAVASCRIPTURL_BASE", "https://cdn.example.com")
	t.Setenv("SOURCEMAP_STAGE_DIR", "")
	t.Setenv("SOURCEMAP_TELEMETRY_URL", "")
	t.Setenv("SOURCEMAP_DRY_RUN", "false")
	t.Setenv("SOURCEMAP_STRICT", "false")
	t.Setenv("LOG_LEVEL", "info")
}

func writeBuild(t *testing.T, files ...string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "dist")
	for _, rel := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	}
	return root
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"publish", "watch", "list", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestPublishFlags(t *testing.T) {
	cmd := NewRootCommand()
	publish, _, err := cmd.Find([]string{"publish"})
	require.NoError(t, err)
	for _, name := range []string{"dir", "base-url", "dry-run", "strict", "force", "stage-dir", "release-name", "metrics-file"} {
		assert.NotNil(t, publish.Flags().Lookup(name), name)
	}
	assert.Equal(t, "d", publish.Flags().Lookup("dir").Shorthand)
}

func TestPublishEndToEnd(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	setEnv(t, srv.URL)

	root := writeBuild(t, "assets/app.js.map", "assets/vendor.js.map", "assets/broken.js.map", "assets/app.js")
	_, logs, err := execute(t, "publish", "--dir", root)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(root, "assets", "app.js.map"))
	assert.NoFileExists(t, filepath.Join(root, "assets", "vendor.js.map"))
	assert.FileExists(t, filepath.Join(root, "assets", "broken.js.map"))
	assert.FileExists(t, filepath.Join(root, "assets", "app.js"))
	assert.Len(t, api.uploaded, 3)
	assert.Contains(t, api.uploaded, "https://cdn.example.com/assets/app.js")
	assert.Contains(t, logs, "failed to publish sourcemap")
	assert.Contains(t, logs, `"service":"sourcemap-publisher"`)
}

func TestPublishStrictReportsFailures(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	setEnv(t, srv.URL)

	root := writeBuild(t, "broken.js.map")
	_, _, err := execute(t, "publish", "--dir", root, "--strict")
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.FileExists(t, filepath.Join(root, "broken.js.map"))
}

func TestPublishMissingCredentialsDoesNotFailBuild(t *testing.T) {
	setEnv(t, "http://127.0.0.1:1")
	t.Setenv("NEWRELIC_API_KEY", "")

	root := writeBuild(t, "app.js.map")
	_, logs, err := execute(t, "publish", "--dir", root)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "app.js.map"))
	assert.Contains(t, logs, "misconfigured")
}

func TestPublishDisabledByDefault(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	setEnv(t, srv.URL)
	t.Setenv("NEWRELIC_ENABLED", "false")

	root := writeBuild(t, "app.js.map")
	_, _, err := execute(t, "publish", "--dir", root)
	require.NoError(t, err)
	assert.Empty(t, api.uploaded)
	assert.FileExists(t, filepath.Join(root, "app.js.map"))

	_, _, err = execute(t, "publish", "--dir", root, "--force")
	require.NoError(t, err)
	assert.Len(t, api.uploaded, 1)
	assert.NoFileExists(t, filepath.Join(root, "app.js.map"))
}

func TestPublishConfigFile(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	setEnv(t, srv.URL)

	root := writeBuild(t, "main.js.map")
	cfgPath := filepath.Join(t.TempDir(), "publisher.yaml")
	doc := "build_dir: " + root + "\njavascript_url_base: https://static.example.com/app\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	_, _, err := execute(t, "publish", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://static.example.com/app/main.js"}, api.uploaded)
}

func TestPublishDryRun(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	setEnv(t, srv.URL)

	root := writeBuild(t, "main.js.map")
	_, logs, err := execute(t, "publish", "--dir", root, "--dry-run")
	require.NoError(t, err)
	assert.Empty(t, api.uploaded)
	assert.FileExists(t, filepath.Join(root, "main.js.map"))
	assert.Contains(t, logs, "dry run")
}

func TestListJSON(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	setEnv(t, srv.URL)

	out, _, err := execute(t, "list", "--format", "json")
	require.NoError(t, err)
	var maps []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &maps))
	require.Len(t, maps, 1)
	assert.Equal(t, "sm-1", maps[0]["id"])
}

func TestListText(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()
	setEnv(t, srv.URL)

	out, _, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "JAVASCRIPT URL")
	assert.Contains(t, out, "https://cdn.example.com/app.js")
}

func TestListRejectsUnknownFormat(t *testing.T) {
	_, _, err := execute(t, "list", "--format", "xml")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "sourcemap-publisher dev\n", out)
}
