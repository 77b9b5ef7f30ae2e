package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"certledger/internal/config"
	"certledger/internal/domain"
	"certledger/internal/infra/auth/jwtauth"
	"certledger/internal/infra/auth/rbac"
	"certledger/internal/infra/crypto"
	"certledger/internal/infra/db"
	httpinfra "certledger/internal/infra/http"
	"certledger/internal/infra/ledgerdb"
	"certledger/internal/infra/ledgermem"
	"certledger/internal/infra/metrics"
	"certledger/internal/infra/policyopa"
	"certledger/internal/infra/ratelimit"
	"certledger/internal/infra/signer"
	"certledger/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type ledger interface {
	domain.LedgerClient
	domain.HistoryReader
	domain.ProofReader
	domain.TransactionReader
}

type app struct {
	server  *httpinfra.Server
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{}

	var sthSigner func(domain.STH) ([]byte, error)
	if cfg.LedgerPrivateKeySeedHex != "" {
		key, err := signer.FromString(cfg.LedgerPrivateKeySeedHex)
		if err != nil {
			return nil, fmt.Errorf("ledger key: %w", err)
		}
		sthSigner = key.SignSTH
	} else {
		logger.Warn("LEDGER_PRIVATE_KEY_SEED_HEX not set; tree heads are unsigned")
	}

	var relay *signer.Ed25519
	if cfg.RelayPrivateKeySeedHex != "" {
		key, err := signer.FromString(cfg.RelayPrivateKeySeedHex)
		if err != nil {
			return nil, fmt.Errorf("relay key: %w", err)
		}
		relay = key
		logger.Info("relay signer loaded", zap.String("address", relay.Address()))
	} else {
		logger.Warn("RELAY_PRIVATE_KEY_SEED_HEX not set; issue and revoke will be refused")
	}

	store, err := db.NewStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	var led ledger
	var health func(context.Context) error
	if store.Enabled() {
		a.closers = append(a.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		led = ledgerdb.New(db.NewLedgerRepository(store.DB), db.NewTreeRepository(store.DB),
			ledgerdb.WithSTHSigner(sthSigner))
		health = store.Ping
	} else {
		led = ledgermem.New(ledgermem.WithSTHSigner(sthSigner))
	}

	authz, err := buildAuthorizer(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var bearer domain.Authenticator
	if cfg.AuthMode == config.AuthModeJWT {
		auth, err := jwtauth.NewAuthenticator(cfg.JWTSigningKey, cfg.JWTIssuer)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		bearer = auth
	}

	var limiter domain.RateLimiter
	if cfg.RateLimitRequests > 0 {
		if cfg.RedisAddr != "" {
			redisLimiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			if err != nil {
				_ = a.Close()
				return nil, fmt.Errorf("redis limiter: %w", err)
			}
			if err := redisLimiter.Ping(ctx); err != nil {
				logger.Warn("redis limiter unreachable at startup", zap.Error(err))
			}
			a.closers = append(a.closers, redisLimiter.Close)
			limiter = redisLimiter
		} else {
			limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
		}
	}

	m := metrics.New(prometheus.NewRegistry())
	certs := usecase.NewCertificateStore(led, crypto.Service{}, nil)
	deps := httpinfra.ServerDeps{
		Lifecycle:   usecase.NewLifecycleController(certs, authz, nil, logger, m),
		Proofs:      led,
		Evidence:    usecase.NewEvidenceService(certs, led, led),
		Bearer:      bearer,
		RateLimiter: limiter,
		Metrics:     m,
		Logger:      logger,
		Health:      health,
	}
	if relay != nil {
		deps.Relay = relay
		deps.AdminAddress = relay.Address()
	}
	a.server = httpinfra.NewServerWithDeps(cfg, deps)
	if err := a.server.Err(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// buildAuthorizer layers the Rego policy under the role rules.
func buildAuthorizer(ctx context.Context, cfg config.Config, logger *zap.Logger) (domain.Authorizer, error) {
	var (
		engine *policyopa.Engine
		err    error
	)
	if cfg.PolicyBundlePath != "" {
		engine, err = policyopa.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath, filepath.Base(cfg.PolicyBundlePath))
	} else {
		engine, err = policyopa.NewDefaultEngine(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("policy engine: %w", err)
	}
	logger.Info("policy loaded", zap.String("bundle_id", engine.BundleID()), zap.String("bundle_hash", engine.BundleHash()))
	return rbac.NewAuthorizer().WithPolicy(policyopa.NewAuthorizer(engine)), nil
}
