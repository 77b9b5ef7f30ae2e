package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"certledger/internal/config"
	"certledger/internal/domain"
	"certledger/internal/infra/auth/header"
	"certledger/internal/infra/metrics"
	"certledger/internal/usecase"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// requestAuthenticator resolves the caller of an HTTP request.
type requestAuthenticator interface {
	Authenticate(c *gin.Context) (domain.Requester, error)
}

type Server struct {
	cfg       config.Config
	r         *gin.Engine
	logger    *zap.Logger
	metrics   *metrics.Metrics
	lifecycle *usecase.LifecycleController
	proofs    domain.ProofReader
	evidence  *usecase.EvidenceService
	health    func(ctx context.Context) error

	authenticator requestAuthenticator
	authInitErr   error
	relay         domain.Signer
	adminAPIKey   string
	adminAddress  string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Lifecycle *usecase.LifecycleController
	Proofs    domain.ProofReader
	Evidence  *usecase.EvidenceService
	// Bearer verifies tokens when AUTH_MODE=jwt.
	Bearer domain.Authenticator
	// Relay signs transactions on behalf of authenticated requesters.
	Relay        domain.Signer
	AdminAddress string
	RateLimiter  domain.RateLimiter
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	Health       func(ctx context.Context) error
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:          cfg,
		r:            gin.New(),
		logger:       logger,
		metrics:      deps.Metrics,
		lifecycle:    deps.Lifecycle,
		proofs:       deps.Proofs,
		evidence:     deps.Evidence,
		health:       deps.Health,
		relay:        deps.Relay,
		adminAPIKey:  cfg.AdminAPIKey,
		adminAddress: deps.AdminAddress,
	}
	if s.adminAddress == "" {
		s.adminAddress = "admin-key"
	}
	s.r.Use(gin.Recovery(), s.requestLogger())
	s.initAuth(deps.Bearer)
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initAuth(bearer domain.Authenticator) {
	switch s.cfg.AuthMode {
	case "":
		s.authInitErr = errors.New("AUTH_MODE is required")
	case config.AuthModeHeader:
		s.authenticator = header.NewAuthenticator()
	case config.AuthModeJWT:
		if bearer == nil {
			s.authInitErr = errors.New("jwt authenticator is not configured")
			return
		}
		s.authenticator = bearerAuthenticator{auth: bearer}
	default:
		s.authInitErr = errors.New("unsupported auth mode")
	}
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.RateLimitRequests
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.r.Group("/v1")
	{
		v1.POST("/certificates", s.handleIssue)
		v1.GET("/certificates/:id", s.handleVerify)
		v1.POST("/certificates/:id/revoke", s.handleRevoke)
		v1.GET("/certificates/:id/history", s.handleHistory)
		v1.GET("/certificates/:id/evidence", s.handleEvidence)

		v1.GET("/ledger/sth", s.handleLatestSTH)
		v1.GET("/ledger/inclusion/:tx_ref", s.handleInclusionProof)
		v1.GET("/ledger/consistency", s.handleConsistencyProof)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Err reports a configuration problem detected at construction.
func (s *Server) Err() error {
	return s.authInitErr
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
