package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// catalogServer serves a two-item catalog: page 1 lists both articles,
// page 2 is empty.
func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("spc.page") != "1" {
			fmt.Fprint(w, "<html><body><ds-app><ul></ul></ds-app></body></html>")
			return
		}
		fmt.Fprint(w, `<html><body><ds-app><ul>
<li data-test="list-object"><a href="/entities/publication/one">One</a></li>
<li data-test="list-object"><a href="/entities/publication/two">Two</a></li>
</ul></ds-app></body></html>`)
	})
	mux.HandleFunc("/entities/publication/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/entities/publication/")
		fmt.Fprintf(w, `<html><body><ds-app>
<h2 class="heading">Article %s</h2>
<div class="authority"><span>Soto, Luis</span></div>
<div class="date">2022</div>
</ds-app></body></html>`, name)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func harvesterEnv(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HARVESTER_CRAWLER_BASE_URL", baseURL)
	t.Setenv("HARVESTER_CRAWLER_SEARCH_QUERY", "frontera")
	t.Setenv("HARVESTER_RENDERER_REQUEST_INTERVAL", "0s")
	t.Setenv("HARVESTER_RENDERER_PAGE_LOAD_TIMEOUT", "5s")
	t.Setenv("HARVESTER_STORAGE_RECORDS_PATH", filepath.Join(dir, "articles_data.csv"))
	t.Setenv("HARVESTER_STORAGE_CHECKPOINT_PATH", filepath.Join(dir, "checkpoint_page.txt"))
	t.Setenv("HARVESTER_STORAGE_ERROR_QUEUE_PATH", filepath.Join(dir, "error_links.txt"))
	t.Setenv("HARVESTER_LOG_FORMAT", "json")
	t.Setenv("HARVESTER_LOG_LEVEL", "warn")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandHarvestsCatalog(t *testing.T) {
	srv := catalogServer(t)
	dir := harvesterEnv(t, srv.URL)

	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "Harvest summary")

	raw, err := os.ReadFile(filepath.Join(dir, "articles_data.csv"))
	require.NoError(t, err)
	csv := string(raw)
	assert.Contains(t, csv, srv.URL+"/entities/publication/one")
	assert.Contains(t, csv, "Article two")

	checkpoint, err := os.ReadFile(filepath.Join(dir, "checkpoint_page.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(string(checkpoint)))

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Harvest state")
	assert.Contains(t, out, "Stored records")
}

func TestReprocessCommandSeedsQueueFromFile(t *testing.T) {
	srv := catalogServer(t)
	dir := harvesterEnv(t, srv.URL)

	urls := filepath.Join(dir, "retry.txt")
	require.NoError(t, os.WriteFile(urls, []byte(srv.URL+"/entities/publication/three\n"), 0o644))

	_, err := execute(t, "reprocess", "--urls-file", urls)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "articles_data.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Article three")

	_, err = os.Stat(filepath.Join(dir, "error_links.txt"))
	assert.True(t, os.IsNotExist(err), "error queue should be cleared")
}

func TestRunCommandRejectsInvalidConfig(t *testing.T) {
	harvesterEnv(t, "https://repo.example")
	t.Setenv("HARVESTER_CRAWLER_BATCH_SIZE", "0")

	_, err := execute(t, "run")
	assert.Error(t, err)
}
