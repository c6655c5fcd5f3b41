//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"depot/internal/api"
	"depot/internal/events"
	"depot/internal/health"
	"depot/internal/job"
	"depot/internal/jobrunner"
	"depot/internal/naturallanguage"
	"depot/internal/observability"
	"depot/internal/store/catalog"
	"depot/internal/testutil"
	"depot/pkg/cloudevent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps every published event in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*cloudevent.CloudEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event *cloudevent.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types(guid string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Data["guid"] == guid {
			out = append(out, e.Type)
		}
	}
	return out
}

type testEnv struct {
	url       string
	jobs      *job.Service
	pkgs      *jobrunner.MemoryCatalog
	published *recordingPublisher
}

// newTestEnv wires the service the way depot-jobs serve does without a
// database, over the sample language catalog and message resources.
func newTestEnv(tb testing.TB) *testEnv {
	tb.Helper()
	ctx := context.Background()

	metrics, _, err := observability.NewMetrics(ctx)
	require.NoError(tb, err)

	repo, err := catalog.Load("../config/naturallanguages.yaml")
	require.NoError(tb, err)
	languages, err := naturallanguage.NewService(naturallanguage.Config{
		Repository: repo,
		Resources:  naturallanguage.NewFSResourceLoader(os.DirFS("../messages")),
		BaseNames:  []string{"messages", "naturallanguages"},
		Metrics:    metrics,
	})
	require.NoError(tb, err)
	require.NoError(tb, languages.Verify(ctx))

	published := &recordingPublisher{}
	dispatcher := events.NewDispatcher(events.Config{BufferSize: 1024, Workers: 2}, published, metrics)

	pkgs := jobrunner.NewMemoryCatalog("audio", "games", "graphics")
	pkgs.AddPkg("haikuports", "games")
	pkgs.AddPkg("pe", "audio")

	jobs, err := job.NewService(job.Config{
		Store: job.NewMemoryDataStore(),
		Registrations: jobrunner.Registrations(jobrunner.Dependencies{
			Languages:  languages,
			Icons:      pkgs,
			Categories: pkgs,
		}),
		Workers:   4,
		QueueSize: 512,
		Listener:  events.NewJobPublisher(dispatcher),
		Metrics:   metrics,
	})
	require.NoError(tb, err)

	router := api.NewRouter(api.RouterConfig{
		JobService:      jobs,
		LanguageService: languages,
		Metrics:         metrics,
		HealthChecker:   health.NewChecker().Require("jobs", health.ReadyFunc(jobs.Ready)),
	})
	server := httptest.NewServer(router)

	tb.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jobs.Close(ctx)
		_ = dispatcher.Close(ctx)
	})

	return &testEnv{url: server.URL, jobs: jobs, pkgs: pkgs, published: published}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func upload(t *testing.T, baseURL, name, mediaType string, payload []byte) job.Data {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/data", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("X-Data-Name", name)
	req.Header.Set("Content-Type", mediaType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var data job.Data
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	return data
}

func download(t *testing.T, baseURL, guid string) []byte {
	t.Helper()
	resp, err := http.Get(baseURL + "/v1/data/" + guid)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

type snapshot struct {
	GUID               string   `json:"guid"`
	Status             string   `json:"status"`
	ProgressPercent    int      `json:"progressPercent"`
	GeneratedDataGUIDs []string `json:"generatedDataGuids"`
	FailureReason      string   `json:"failureReason"`
}

func TestAPI_Probes(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, getJSON(t, env.url+"/livez", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, env.url+"/readyz", nil))
}

func TestAPI_NaturalLanguages(t *testing.T) {
	env := newTestEnv(t)

	var localized struct {
		Codes []string `json:"codes"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.url+"/v1/naturallanguages/localized", &localized))
	assert.Equal(t, []string{"de", "pt-BR"}, localized.Codes)

	var messages struct {
		Messages map[string]string `json:"messages"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.url+"/v1/naturallanguages/pt-BR/messages", &messages))
	assert.Equal(t, "Na fila", messages.Messages["job.status.QUEUED"])
	assert.Equal(t, "Started", messages.Messages["job.status.STARTED"])
	assert.Equal(t, "Portuguese (Brazil)", messages.Messages["naturalLanguage.pt-BR"])

	var match struct {
		Code string `json:"code"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.url+"/v1/naturallanguages/match?code=pt-PT", &match))
	assert.Equal(t, "pt", match.Code)
}

func TestAPI_LocalizationCoverageReport(t *testing.T) {
	env := newTestEnv(t)

	var snap snapshot
	require.Equal(t, http.StatusOK, postJSON(t, env.url+"/v1/jobs/immediate",
		`{"type":"localizationcoveragereport","ownerUserNickname":"erik"}`, &snap))
	require.Equal(t, "FINISHED", snap.Status, snap.FailureReason)
	assert.Equal(t, 100, snap.ProgressPercent)
	require.Len(t, snap.GeneratedDataGUIDs, 1)

	records, err := csv.NewReader(bytes.NewReader(download(t, env.url, snap.GeneratedDataGUIDs[0]))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 9)
	assert.Equal(t, []string{"de", "Deutsch", "true", "true", "true", "13"}, records[1])
	assert.Equal(t, []string{"fr", "Français", "true", "false", "false", "13"}, records[4])

	testutil.MustWaitFor(t, func() bool { return len(env.published.types(snap.GUID)) == 3 })
	assert.Equal(t, []string{
		"org.haiku.depot.job.queued",
		"org.haiku.depot.job.started",
		"org.haiku.depot.job.finished",
	}, env.published.types(snap.GUID))
}

func TestAPI_CategoryImport(t *testing.T) {
	env := newTestEnv(t)

	input := upload(t, env.url, "categories.csv", "text/csv",
		[]byte("pkg-name,audio,games,graphics\nhaikuports,,X,X\npe,X,,\nmissing,X,,\n"))

	var submitted job.SubmitResponse
	require.Equal(t, http.StatusAccepted, postJSON(t, env.url+"/v1/jobs",
		fmt.Sprintf(`{"type":"pkgcategorycoverageimportspreadsheet","ownerUserNickname":"erik","inputDataGuid":%q}`, input.GUID), &submitted))

	var snap snapshot
	require.Equal(t, http.StatusOK, postJSON(t, env.url+"/v1/jobs/"+submitted.GUID+"/await?timeout=10s", "", &snap))
	require.Equal(t, "FINISHED", snap.Status, snap.FailureReason)
	require.Len(t, snap.GeneratedDataGUIDs, 1)

	records, err := csv.NewReader(bytes.NewReader(download(t, env.url, snap.GeneratedDataGUIDs[0]))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"pkg-name", "audio", "games", "graphics", "action"},
		{"haikuports", "", "X", "X", jobrunner.ActionUpdated},
		{"pe", "X", "", "", jobrunner.ActionNone},
		{"missing", "X", "", "", jobrunner.ActionNotFound},
	}, records)

	codes, ok, err := env.pkgs.PkgCategories(context.Background(), "haikuports")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"games", "graphics"}, codes)
}

func TestAPI_InvalidJobRequest(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, postJSON(t, env.url+"/v1/jobs", `{"type":"pkgiconimportarchive"}`, nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, env.url+"/v1/jobs", `{"type":"rebootserver"}`, nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, env.url+"/v1/jobs", `not json`, nil))
}

func TestAPI_ConcurrentEquivalentSubmissions(t *testing.T) {
	env := newTestEnv(t)

	const n = 32
	guids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var resp job.SubmitResponse
			assert.Equal(t, http.StatusAccepted, postJSON(t, env.url+"/v1/jobs",
				`{"type":"localizationcoveragereport","ownerUserNickname":"flood"}`, &resp))
			guids[i] = resp.GUID
		}()
	}
	wg.Wait()

	// Equivalent submissions collapse into whichever job is still active.
	distinct := map[string]struct{}{}
	for _, g := range guids {
		require.NotEmpty(t, g)
		distinct[g] = struct{}{}
	}
	assert.LessOrEqual(t, len(distinct), n)
	for g := range distinct {
		require.NoError(t, env.jobs.AwaitJobFinishedUninterruptibly(g, 10*time.Second))
	}
	stats := env.jobs.Stats()
	assert.Equal(t, int64(n), stats.Submitted+stats.Coalesced)
	assert.Equal(t, int64(len(distinct)), stats.Submitted)
}
