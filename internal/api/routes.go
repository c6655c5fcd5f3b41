package api

import (
	"net/http"

	"depot/internal/health"
	"depot/internal/job"
	"depot/internal/naturallanguage"

	"golang.org/x/time/rate"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService      *job.Service
	LanguageService *naturallanguage.Service
	Metrics         HTTPRecorder // optional
	HealthChecker   *health.Checker
	APIKey          string
	SubmitLimiter   *rate.Limiter // optional; applies to job submission
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.LanguageService, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	submit := func(h http.HandlerFunc) http.Handler {
		return auth(RateLimitMiddleware(cfg.SubmitLimiter)(JSONBodyMiddleware()(h)))
	}

	// Job data endpoints
	mux.Handle("POST /v1/data", auth(http.HandlerFunc(handler.UploadData)))
	mux.Handle("GET /v1/data/{guid}", auth(http.HandlerFunc(handler.DownloadData)))

	// Job endpoints
	mux.Handle("POST /v1/jobs", submit(handler.SubmitJob))
	mux.Handle("POST /v1/jobs/immediate", submit(handler.RunJobImmediately))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("GET /v1/jobs/{guid}", auth(http.HandlerFunc(handler.GetJob)))
	mux.Handle("DELETE /v1/jobs/{guid}", auth(http.HandlerFunc(handler.CancelJob)))
	mux.Handle("POST /v1/jobs/{guid}/await", auth(http.HandlerFunc(handler.AwaitJob)))

	// Natural language endpoints - read-only, no auth
	mux.HandleFunc("GET /v1/naturallanguages", handler.ListNaturalLanguages)
	mux.HandleFunc("GET /v1/naturallanguages/localized", handler.ListLocalizedNaturalLanguages)
	mux.HandleFunc("GET /v1/naturallanguages/data", handler.ListNaturalLanguagesWithData)
	mux.HandleFunc("GET /v1/naturallanguages/match", handler.MatchNaturalLanguage)
	mux.HandleFunc("GET /v1/naturallanguages/{code}/messages", handler.GetLocalizationMessages)

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
