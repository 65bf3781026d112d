package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vanntrong/qaserve-go/internal/engine"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// Sweeper is the periodic retrain sweep toggled by the
	// /api/retrain/auto endpoints. If nil those endpoints return 503.
	Sweeper SweepToggle
	// RateLimit is the sustained request rate allowed per IP (requests/second).
	// Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives all server metrics. A fresh registry is created if
	// nil; tests inject their own to stay hermetic.
	Registry *prometheus.Registry
}

// engineAPI is the surface the handlers call. *engine.Engine satisfies it;
// tests inject a fake.
type engineAPI interface {
	BulkIngest(ctx context.Context, pairs []engine.Pair) (*engine.IngestResult, error)
	SingleIngest(ctx context.Context, question, answer string) (bool, error)
	Search(ctx context.Context, query string, k int, threshold float64) ([]engine.SearchHit, error)
	TriggerRetrain(ctx context.Context, manual bool) (bool, error)
}

// SweepToggle is the runtime on/off surface of the periodic retrain sweep.
// *sched.Sweeper satisfies it.
type SweepToggle interface {
	Enable()
	Disable()
	Enabled() bool
}

// Server is the HTTP server wrapping the QA engine.
type Server struct {
	// engine handles ingestion, search and retrain triggers.
	engine engineAPI
	// sweeper is the periodic retrain sweep, toggled via the API. May be nil.
	sweeper SweepToggle
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds all Prometheus metrics owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine.
	stopRL func()
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Pairs is the batch of question/answer rows to ingest.
	Pairs []engine.Pair `json:"pairs"`
}

// qaRequest is the JSON body for POST /api/qa.
type qaRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// qaResponse is the JSON response for POST /api/qa.
type qaResponse struct {
	Inserted bool `json:"inserted"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Question string `json:"question"`
	// K is the number of distinct answers wanted (default 5).
	K int `json:"k,omitempty"`
	// MaxDistanceThreshold drops neighbors farther than this. Absent means
	// the default; an explicit 0 keeps only exact matches.
	MaxDistanceThreshold *float64 `json:"max_distance_threshold,omitempty"`
}

// retrainResponse is the JSON response for POST /api/retrain.
type retrainResponse struct {
	Triggered bool `json:"triggered"`
}

// autoResponse is the JSON response for the retrain sweep toggle endpoints.
type autoResponse struct {
	Enabled bool `json:"enabled"`
}
