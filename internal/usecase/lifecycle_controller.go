package usecase

import (
	"context"
	"time"

	"certledger/internal/domain"

	"go.uber.org/zap"
)

const (
	OpIssue   = "issue"
	OpVerify  = "verify"
	OpRevoke  = "revoke"
	OpHistory = "history"
)

// Error is the caller-facing failure. Kind is always one of the six
// lifecycle error kinds.
type Error struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// Result is the uniform envelope returned by the controller: OK with Value,
// or not OK with Error.
type Result[T any] struct {
	OK    bool   `json:"ok"`
	Value T      `json:"value,omitempty"`
	Error *Error `json:"error,omitempty"`
}

func resultOf[T any](value T, err error) Result[T] {
	if err != nil {
		return Result[T]{Error: &Error{Kind: domain.KindOf(err), Message: err.Error()}}
	}
	return Result[T]{OK: true, Value: value}
}

// LifecycleController routes caller intents to the three services, all of
// which share one certificate store. It holds no state of its own.
type LifecycleController struct {
	Issuance     *IssuanceService
	Verification *VerificationService
	Revocation   *RevocationService
	Metrics      OutcomeRecorder
	logger       *zap.Logger
}

func NewLifecycleController(certs CertificateRepository, authz domain.Authorizer, clock Clock, logger *zap.Logger, metrics OutcomeRecorder) *LifecycleController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleController{
		Issuance:     NewIssuanceService(certs, authz, clock),
		Verification: NewVerificationService(certs),
		Revocation:   NewRevocationService(certs, authz, clock),
		Metrics:      metrics,
		logger:       logger.With(zap.String("component", "lifecycle_controller")),
	}
}

func (c *LifecycleController) IssueCertificate(ctx context.Context, requester domain.Requester, in domain.IssueInput) Result[domain.TxRef] {
	start := time.Now()
	ref, err := c.Issuance.Issue(ctx, requester, in)
	c.observe(OpIssue, start, err,
		zap.String("id", in.ID),
		zap.String("requester", requester.Address),
		zap.String("tx_ref", ref.String()))
	return resultOf(ref, err)
}

func (c *LifecycleController) VerifyCertificate(ctx context.Context, id string) Result[domain.Certificate] {
	start := time.Now()
	cert, err := c.Verification.Verify(ctx, id)
	c.observe(OpVerify, start, err, zap.String("id", id), zap.String("status", string(cert.Status)))
	return resultOf(cert, err)
}

func (c *LifecycleController) RevokeCertificate(ctx context.Context, requester domain.Requester, id string) Result[domain.TxRef] {
	start := time.Now()
	ref, err := c.Revocation.Revoke(ctx, requester, id)
	c.observe(OpRevoke, start, err,
		zap.String("id", id),
		zap.String("requester", requester.Address),
		zap.String("tx_ref", ref.String()))
	return resultOf(ref, err)
}

func (c *LifecycleController) CertificateHistory(ctx context.Context, id string) Result[[]domain.CommittedTx] {
	start := time.Now()
	txs, err := c.Verification.History(ctx, id)
	c.observe(OpHistory, start, err, zap.String("id", id), zap.Int("transactions", len(txs)))
	return resultOf(txs, err)
}

func (c *LifecycleController) observe(op string, start time.Time, err error, fields ...zap.Field) {
	elapsed := time.Since(start)
	kind := domain.KindOf(err)
	if c.Metrics != nil {
		c.Metrics.ObserveOutcome(op, kind, elapsed)
	}
	fields = append(fields, zap.String("op", op), zap.Duration("duration", elapsed))
	switch {
	case err == nil:
		c.logger.Info("certificate operation succeeded", fields...)
	case kind == domain.KindLedgerError:
		c.logger.Error("certificate operation failed", append(fields, zap.String("kind", string(kind)), zap.Error(err))...)
	default:
		c.logger.Warn("certificate operation rejected", append(fields, zap.String("kind", string(kind)), zap.Error(err))...)
	}
}
