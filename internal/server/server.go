package server

import (
	"fmt"
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"github.com/storacha/datadao/internal/metrics"
	"github.com/storacha/datadao/internal/service"
)

var log = logging.Logger("server")

type config struct {
	metricsEndpointToken string
}

type Option func(*config)

func WithMetricsEndpoint(authToken string) Option {
	return func(c *config) {
		c.metricsEndpointToken = authToken
	}
}

// Server translates HTTP requests into service calls and the service's
// error taxonomy into status codes. The core never sees HTTP concepts.
type Server struct {
	cfg *config
	svc *service.Service
}

func New(svc *service.Service, opts ...Option) (*Server, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Server{cfg: cfg, svc: svc}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.getRootHandler())
	mux.HandleFunc("POST /data", s.postDataHandler())
	mux.HandleFunc("GET /data/{cid}", s.getDataHandler())
	mux.HandleFunc("GET /data/{cid}/account", s.getAccountHandler())
	mux.HandleFunc("POST /dao", s.postDAOHandler())
	mux.HandleFunc("GET /dao", s.getDAOHandler())
	mux.HandleFunc("POST /dao/members", s.postMembersHandler())
	mux.HandleFunc("POST /dao/data", s.postSubmissionHandler())
	mux.HandleFunc("GET /dao/deals/{deal}", s.getDealHandler())
	mux.HandleFunc("POST /dao/deals/{deal}/reward", s.postRewardHandler())

	if s.cfg.metricsEndpointToken != "" {
		mux.Handle("GET /metrics", s.getMetricsHandler())
	} else {
		log.Warnf("Metrics endpoint is disabled")
	}

	return mux
}

func (s *Server) ListenAndServe(addr string) error {
	// Counters are recorded on every operation, so the exporter is wired
	// regardless of whether the /metrics endpoint is exposed.
	if err := metrics.Init(); err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	log.Infof("Listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}
