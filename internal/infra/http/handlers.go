package http

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"certledger/internal/domain"
	"certledger/internal/infra/bundles"
	"certledger/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Kind    domain.ErrorKind `json:"kind,omitempty"`
	Code    string           `json:"code"`
	Message string           `json:"message"`
}

type envelope struct {
	OK    bool           `json:"ok"`
	Value any            `json:"value,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type issueRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Recipient string `json:"recipient"`
}

type txResponse struct {
	ID    string       `json:"id"`
	TxRef domain.TxRef `json:"tx_ref"`
}

type sthResponse struct {
	TreeSize  int64  `json:"tree_size"`
	RootHash  string `json:"root_hash"`
	IssuedAt  string `json:"issued_at"`
	Signature string `json:"signature,omitempty"`
}

type inclusionResponse struct {
	TxRef       domain.TxRef `json:"tx_ref"`
	LeafIndex   int64        `json:"leaf_index"`
	Path        []string     `json:"path"`
	STHTreeSize int64        `json:"sth_tree_size"`
	STHRootHash string       `json:"sth_root_hash"`
	STH         sthResponse  `json:"sth"`
}

type consistencyResponse struct {
	FromSize int64    `json:"from_size"`
	ToSize   int64    `json:"to_size"`
	Path     []string `json:"path"`
}

func (s *Server) handleIssue(c *gin.Context) {
	requester, ok := s.requireAuth(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeCertificatesIssue, requester) {
		return
	}
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.KindInvalidInput, codeForKind(domain.KindInvalidInput), "malformed request body")
		return
	}
	in := domain.IssueInput{ID: req.ID, Name: req.Name, Recipient: req.Recipient}
	res := s.lifecycle.IssueCertificate(c.Request.Context(), requester, in)
	writeResult(c, http.StatusCreated, res, func(ref domain.TxRef) any {
		return txResponse{ID: req.ID, TxRef: ref}
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	if !s.enforceRateLimit(c, routeCertificatesRead, domain.Requester{}) {
		return
	}
	res := s.lifecycle.VerifyCertificate(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, res, func(cert domain.Certificate) any { return cert })
}

func (s *Server) handleRevoke(c *gin.Context) {
	requester, ok := s.requireAuth(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeCertificatesRevoke, requester) {
		return
	}
	id := c.Param("id")
	res := s.lifecycle.RevokeCertificate(c.Request.Context(), requester, id)
	writeResult(c, http.StatusOK, res, func(ref domain.TxRef) any {
		return txResponse{ID: id, TxRef: ref}
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if !s.enforceRateLimit(c, routeCertificatesRead, domain.Requester{}) {
		return
	}
	res := s.lifecycle.CertificateHistory(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, res, func(txs []domain.CommittedTx) any { return txs })
}

func (s *Server) handleEvidence(c *gin.Context) {
	if !s.enforceRateLimit(c, routeCertificatesRead, domain.Requester{}) {
		return
	}
	if s.evidence == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	evidence, err := s.evidence.Collect(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	bundle, err := bundles.BuildEvidenceBundle(evidence)
	if err != nil {
		writeError(c, domain.NewLedgerError("evidence", err))
		return
	}
	writeValue(c, http.StatusOK, bundle)
}

func (s *Server) handleLatestSTH(c *gin.Context) {
	if !s.enforceRateLimit(c, routeLedgerRead, domain.Requester{}) {
		return
	}
	if s.proofs == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	sth, err := s.proofs.LatestSTH(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeValue(c, http.StatusOK, buildSTHResponse(sth))
}

func (s *Server) handleInclusionProof(c *gin.Context) {
	if !s.enforceRateLimit(c, routeLedgerRead, domain.Requester{}) {
		return
	}
	if s.proofs == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	ref := domain.TxRef(c.Param("tx_ref"))
	leafIndex, sth, proof, err := s.proofs.InclusionProof(c.Request.Context(), ref)
	if err != nil {
		writeError(c, err)
		return
	}
	path := make([]string, 0, len(proof.Path))
	for _, node := range proof.Path {
		path = append(path, hex.EncodeToString(node))
	}
	writeValue(c, http.StatusOK, inclusionResponse{
		TxRef:       ref,
		LeafIndex:   leafIndex,
		Path:        path,
		STHTreeSize: proof.STHTreeSize,
		STHRootHash: hex.EncodeToString(proof.STHRootHash),
		STH:         buildSTHResponse(sth),
	})
}

func (s *Server) handleConsistencyProof(c *gin.Context) {
	if !s.enforceRateLimit(c, routeLedgerRead, domain.Requester{}) {
		return
	}
	if s.proofs == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	fromSize, err := strconv.ParseInt(c.Query("from"), 10, 64)
	if err != nil {
		writeError(c, domain.InvalidInput("from", "must be an integer"))
		return
	}
	toSize, err := strconv.ParseInt(c.Query("to"), 10, 64)
	if err != nil {
		writeError(c, domain.InvalidInput("to", "must be an integer"))
		return
	}
	proof, err := s.proofs.ConsistencyProof(c.Request.Context(), fromSize, toSize)
	if err != nil {
		writeError(c, err)
		return
	}
	path := make([]string, 0, len(proof.Path))
	for _, node := range proof.Path {
		path = append(path, hex.EncodeToString(node))
	}
	writeValue(c, http.StatusOK, consistencyResponse{FromSize: proof.FromSize, ToSize: proof.ToSize, Path: path})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "", "ROUTE_NOT_FOUND", "route not found")
}

func buildSTHResponse(sth domain.STH) sthResponse {
	sig := ""
	if len(sth.Signature) > 0 {
		sig = base64.StdEncoding.EncodeToString(sth.Signature)
	}
	return sthResponse{
		TreeSize:  sth.TreeSize,
		RootHash:  hex.EncodeToString(sth.RootHash),
		IssuedAt:  sth.IssuedAt.UTC().Format(time.RFC3339Nano),
		Signature: sig,
	}
}

func writeResult[T any](c *gin.Context, status int, res usecase.Result[T], value func(T) any) {
	if !res.OK {
		kind, message := domain.KindLedgerError, "operation failed"
		if res.Error != nil {
			kind, message = res.Error.Kind, res.Error.Message
		}
		writeErrorCode(c, statusForKind(kind), kind, codeForKind(kind), message)
		return
	}
	writeValue(c, status, value(res.Value))
}

func writeValue(c *gin.Context, status int, value any) {
	c.JSON(status, envelope{OK: true, Value: value})
}

func writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	writeErrorCode(c, statusForKind(kind), kind, codeForKind(kind), err.Error())
}

func writeErrorCode(c *gin.Context, status int, kind domain.ErrorKind, code, message string) {
	c.AbortWithStatusJSON(status, envelope{Error: &errorResponse{
		Kind:    kind,
		Code:    code,
		Message: message,
	}})
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindDuplicateID, domain.KindAlreadyRevoked:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func codeForKind(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindInvalidInput:
		return "INVALID_INPUT"
	case domain.KindUnauthorized:
		return "UNAUTHORIZED"
	case domain.KindDuplicateID:
		return "DUPLICATE_ID"
	case domain.KindNotFound:
		return "NOT_FOUND"
	case domain.KindAlreadyRevoked:
		return "ALREADY_REVOKED"
	default:
		return "LEDGER_ERROR"
	}
}
