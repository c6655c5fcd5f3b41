package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"depot/internal/apperrors"
	"depot/internal/health"
	"depot/internal/job"
	"depot/internal/naturallanguage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const echoKind = "echo"

// echoSpec copies its text, followed by every supplied input, to one output.
type echoSpec struct {
	job.OwnedSpecification
	Text   string   `json:"text"`
	Inputs []string `json:"suppliedDataGuids,omitempty"`
}

func (s *echoSpec) Kind() string                 { return echoKind }
func (s *echoSpec) SuppliedDataGUIDs() []string  { return s.Inputs }
func (s *echoSpec) CoalesceKey() (string, error) { return job.JSONCoalesceKey(s) }

func (s *echoSpec) Validate() error {
	if s.Text == "" {
		return apperrors.Validation("text", "text is required")
	}
	return s.ValidateOwner()
}

type echoRunner struct {
	gate chan struct{} // nil runs immediately
}

func (r *echoRunner) Run(ctx context.Context, rc *job.RunContext) error {
	if r.gate != nil {
		<-r.gate
	}
	spec := rc.Specification().(*echoSpec)
	out := rc.CreateOutput("echo.txt", "text/plain")
	fmt.Fprint(out, spec.Text)
	for _, g := range spec.Inputs {
		_, in, err := rc.OpenInput(ctx, g)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

type fakeLanguageRepository struct{}

func (fakeLanguageRepository) AllNaturalLanguages(context.Context) ([]naturallanguage.NaturalLanguage, error) {
	return []naturallanguage.NaturalLanguage{
		{Coordinates: naturallanguage.NewCoordinates("en", "", ""), Name: "English", IsPopular: true},
		{Coordinates: naturallanguage.NewCoordinates("de", "", ""), Name: "Deutsch", IsPopular: true},
		{Coordinates: naturallanguage.NewCoordinates("pt", "", "BR"), Name: "Português (Brasil)"},
	}, nil
}

func (fakeLanguageRepository) UsedCoordinates(_ context.Context, table naturallanguage.UsageTable) ([]naturallanguage.Coordinates, error) {
	if table == naturallanguage.UsageUserRating {
		return []naturallanguage.Coordinates{naturallanguage.NewCoordinates("pt", "", "BR")}, nil
	}
	return nil, nil
}

type testServer struct {
	handler http.Handler
	jobs    *job.Service
	health  *health.Checker
}

type serverOption func(*RouterConfig, *job.Config)

func withAPIKey(key string) serverOption {
	return func(rc *RouterConfig, _ *job.Config) { rc.APIKey = key }
}

func withLimiter(l *rate.Limiter) serverOption {
	return func(rc *RouterConfig, _ *job.Config) { rc.SubmitLimiter = l }
}

func withGate(gate chan struct{}) serverOption {
	return func(_ *RouterConfig, jc *job.Config) {
		jc.Workers = 1
		jc.Registrations[0].Runner = &echoRunner{gate: gate}
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	jobCfg := job.Config{
		Store:     job.NewMemoryDataStore(),
		Workers:   2,
		QueueSize: 16,
		Registrations: []job.Registration{{
			Kind:   echoKind,
			New:    func() job.Specification { return &echoSpec{} },
			Runner: &echoRunner{},
		}},
	}
	routerCfg := RouterConfig{}
	for _, opt := range opts {
		opt(&routerCfg, &jobCfg)
	}

	jobs, err := job.NewService(jobCfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jobs.Close(ctx)
	})

	languages, err := naturallanguage.NewService(naturallanguage.Config{
		Repository: fakeLanguageRepository{},
		Resources: naturallanguage.NewFSResourceLoader(fstest.MapFS{
			"messages.properties":    {Data: []byte("greeting=Hello\nfarewell=Bye\n")},
			"messages_de.properties": {Data: []byte("greeting=Hallo\n")},
		}),
		BaseNames: []string{"messages"},
	})
	require.NoError(t, err)

	checker := health.NewChecker().Require("jobs", health.ReadyFunc(jobs.Ready))

	routerCfg.JobService = jobs
	routerCfg.LanguageService = languages
	routerCfg.HealthChecker = checker

	return &testServer{handler: NewRouter(routerCfg), jobs: jobs, health: checker}
}

func (s *testServer) do(t *testing.T, method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) submit(t *testing.T, target, spec string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, target, strings.NewReader(spec), "Content-Type", "application/json")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

// jobView is the subset of the snapshot wire form the tests inspect.
type jobView struct {
	GUID               string   `json:"guid"`
	Type               string   `json:"type"`
	Status             string   `json:"status"`
	GeneratedDataGUIDs []string `json:"generatedDataGuids"`
	SuppliedDataGUIDs  []string `json:"suppliedDataGuids"`
	FailureReason      string   `json:"failureReason"`
}

func TestHandler_Livez(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/livez", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, health.StatusHealthy, decode[health.Response](t, w).Status)
}

func TestHandler_Readyz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.health.SetShuttingDown()
	w = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_UploadAndDownloadData(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/data", strings.NewReader("hello depot"),
		"X-Data-Name", "notes.txt", "Content-Type", "text/plain")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decode[job.Data](t, w)
	assert.Equal(t, "notes.txt", data.Name)
	assert.Equal(t, job.DataSupplied, data.Use)
	assert.Equal(t, int64(11), data.Size)

	w = s.do(t, http.MethodGet, "/v1/data/"+data.GUID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello depot", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "notes.txt")
}

func TestHandler_UploadData_Validation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/data", strings.NewReader("x"), "Content-Type", "text/plain")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "name", decode[errorResponse](t, w).Field)
}

func TestHandler_UploadData_BadGzip(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/data", strings.NewReader("not gzip"),
		"X-Data-Name", "a.tgz", "Content-Type", "application/x-tar", "Content-Encoding", "gzip")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "encoding", decode[errorResponse](t, w).Field)
}

func TestHandler_DownloadData_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/data/unknown", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_SubmitAndAwait(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	upload := s.do(t, http.MethodPost, "/v1/data", strings.NewReader(" and more"),
		"X-Data-Name", "in.txt", "Content-Type", "text/plain")
	require.Equal(t, http.StatusCreated, upload.Code)
	input := decode[job.Data](t, upload)

	w := s.submit(t, "/v1/jobs", fmt.Sprintf(`{"type":"echo","text":"hi","suppliedDataGuids":[%q]}`, input.GUID))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	guid := decode[job.SubmitResponse](t, w).GUID
	require.NotEmpty(t, guid)

	w = s.do(t, http.MethodPost, "/v1/jobs/"+guid+"/await?timeout=5s", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[jobView](t, w)
	assert.Equal(t, "FINISHED", view.Status)
	assert.Equal(t, echoKind, view.Type)
	assert.Equal(t, []string{input.GUID}, view.SuppliedDataGUIDs)
	require.Len(t, view.GeneratedDataGUIDs, 1)

	w = s.do(t, http.MethodGet, "/v1/data/"+view.GeneratedDataGUIDs[0], nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi and more", w.Body.String())
}

func TestHandler_SubmitJob_Coalesces(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	s := newTestServer(t, withGate(gate))
	defer close(gate)

	first := decode[job.SubmitResponse](t, s.submit(t, "/v1/jobs", `{"type":"echo","text":"same"}`))
	second := decode[job.SubmitResponse](t, s.submit(t, "/v1/jobs", `{"type":"echo","text":"same"}`))
	third := decode[job.SubmitResponse](t, s.submit(t, "/v1/jobs?coalesce=none", `{"type":"echo","text":"same"}`))

	assert.Equal(t, first.GUID, second.GUID)
	assert.NotEqual(t, first.GUID, third.GUID)
}

func TestHandler_SubmitJob_Errors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name   string
		target string
		body   string
		status int
		field  string
	}{
		{"unknown type", "/v1/jobs", `{"type":"nope"}`, http.StatusBadRequest, "type"},
		{"missing type", "/v1/jobs", `{"text":"x"}`, http.StatusBadRequest, "type"},
		{"kind validation", "/v1/jobs", `{"type":"echo"}`, http.StatusBadRequest, "text"},
		{"malformed", "/v1/jobs", `{`, http.StatusBadRequest, "type"},
		{"unknown supplied data", "/v1/jobs", `{"type":"echo","text":"x","suppliedDataGuids":["missing"]}`, http.StatusBadRequest, "suppliedDataGuids"},
		{"bad coalesce mode", "/v1/jobs?coalesce=always", `{"type":"echo","text":"x"}`, http.StatusBadRequest, "coalesce"},
		{"bad suppress flag", "/v1/jobs/immediate?suppressCoalesce=maybe", `{"type":"echo","text":"x"}`, http.StatusBadRequest, "suppressCoalesce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := s.submit(t, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.field, decode[errorResponse](t, w).Field)
		})
	}
}

func TestHandler_SubmitJob_RequiresJSON(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/jobs", strings.NewReader(`{"type":"echo","text":"x"}`), "Content-Type", "text/plain")

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestHandler_RunJobImmediately(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.submit(t, "/v1/jobs/immediate?suppressCoalesce=true", `{"type":"echo","text":"now","ownerUserNickname":"erik"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[jobView](t, w)
	assert.Equal(t, "FINISHED", view.Status)
	assert.Len(t, view.GeneratedDataGUIDs, 1)
}

func TestHandler_ListJobs(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.submit(t, "/v1/jobs/immediate", `{"type":"echo","text":"a","ownerUserNickname":"erik"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.submit(t, "/v1/jobs/immediate", `{"type":"echo","text":"b","ownerUserNickname":"sam"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/jobs?status=finished&owner=erik", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Jobs []jobView `json:"jobs"`
	}](t, w)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "FINISHED", list.Jobs[0].Status)

	w = s.do(t, http.MethodGet, "/v1/jobs?status=done", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "status", decode[errorResponse](t, w).Field)
}

func TestHandler_GetJob_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/jobs/unknown", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CancelJob(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	s := newTestServer(t, withGate(gate))

	running := decode[job.SubmitResponse](t, s.submit(t, "/v1/jobs", `{"type":"echo","text":"running"}`)).GUID
	queued := decode[job.SubmitResponse](t, s.submit(t, "/v1/jobs", `{"type":"echo","text":"queued"}`)).GUID
	require.Eventually(t, func() bool {
		snap, _ := s.jobs.TryGetJob(running)
		return snap.Status == job.StatusStarted
	}, 5*time.Second, 5*time.Millisecond)

	w := s.do(t, http.MethodDelete, "/v1/jobs/"+queued, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/jobs/"+running, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	close(gate)
	w = s.do(t, http.MethodGet, "/v1/jobs/"+queued, nil)
	assert.Equal(t, "CANCELLED", decode[jobView](t, w).Status)
}

func TestHandler_AwaitJob(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	s := newTestServer(t, withGate(gate))
	defer close(gate)

	guid := decode[job.SubmitResponse](t, s.submit(t, "/v1/jobs", `{"type":"echo","text":"slow"}`)).GUID

	w := s.do(t, http.MethodPost, "/v1/jobs/"+guid+"/await?timeout=20ms", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = s.do(t, http.MethodPost, "/v1/jobs/"+guid+"/await?timeout=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/jobs/unknown/await", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Auth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, withAPIKey("secret"))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var headers []string
			if tt.header != "" {
				headers = []string{"Authorization", tt.header}
			}
			w := s.do(t, http.MethodGet, "/v1/jobs", nil, headers...)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	// Probes and natural language reads stay open.
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/livez", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/naturallanguages", nil).Code)
}

func TestHandler_RateLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, withLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	w := s.submit(t, "/v1/jobs", `{"type":"echo","text":"one"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = s.submit(t, "/v1/jobs", `{"type":"echo","text":"two"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/jobs", nil).Code)
}

func TestHandler_ListNaturalLanguages(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/naturallanguages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		NaturalLanguages []struct {
			Code                    string `json:"code"`
			LanguageCode            string `json:"languageCode"`
			CountryCode             string `json:"countryCode"`
			Name                    string `json:"name"`
			HasLocalizationMessages bool   `json:"hasLocalizationMessages"`
			HasData                 bool   `json:"hasData"`
		} `json:"naturalLanguages"`
	}](t, w)
	require.Len(t, resp.NaturalLanguages, 3)

	var codes []string
	for _, nl := range resp.NaturalLanguages {
		codes = append(codes, nl.Code)
	}
	assert.Equal(t, []string{"de", "en", "pt-BR"}, codes)
	assert.True(t, resp.NaturalLanguages[0].HasLocalizationMessages)
	assert.False(t, resp.NaturalLanguages[1].HasLocalizationMessages)
	assert.Equal(t, "BR", resp.NaturalLanguages[2].CountryCode)
	assert.True(t, resp.NaturalLanguages[2].HasData)
}

func TestHandler_NaturalLanguageCodeLists(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/naturallanguages/localized", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"de"}, decode[codesResponse](t, w).Codes)

	w = s.do(t, http.MethodGet, "/v1/naturallanguages/data", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pt-BR"}, decode[codesResponse](t, w).Codes)
}

func TestHandler_GetLocalizationMessages(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/naturallanguages/de/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[messagesResponse](t, w)
	assert.Equal(t, "de", resp.NaturalLanguageCode)
	assert.Equal(t, map[string]string{"greeting": "Hallo", "farewell": "Bye"}, resp.Messages)

	w = s.do(t, http.MethodGet, "/v1/naturallanguages/not_a_code!/messages", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_MatchNaturalLanguage(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		code   string
		status int
		want   string
	}{
		{"pt-BR", http.StatusOK, "pt-BR"},
		{"de-AT", http.StatusOK, "de"},
		{"fr", http.StatusNotFound, ""},
		{"", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			w := s.do(t, http.MethodGet, "/v1/naturallanguages/match?code="+tt.code, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.want != "" {
				assert.Equal(t, tt.want, decode[matchResponse](t, w).Code)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()
	h := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	t.Parallel()
	called := false
	h := CORSMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

type recordedRequest struct {
	method, path string
	status       int
}

type fakeHTTPRecorder struct {
	requests []recordedRequest
}

func (f *fakeHTTPRecorder) RecordHTTPRequest(_ context.Context, method, path string, statusCode int, _ float64) {
	f.requests = append(f.requests, recordedRequest{method, path, statusCode})
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()
	rec := &fakeHTTPRecorder{}
	h := MetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(nil)))

	require.Len(t, rec.requests, 1)
	assert.Equal(t, recordedRequest{http.MethodPost, "/v1/jobs", http.StatusTeapot}, rec.requests[0])
}
