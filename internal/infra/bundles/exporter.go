package bundles

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"certledger/internal/domain"
	cryptoinfra "certledger/internal/infra/crypto"
	"certledger/internal/infra/merkle"
)

const EvidenceBundleVersion = "v1"

const (
	FailInvalidBundle       = "INVALID_BUNDLE"
	FailDigestMismatch      = "DIGEST_MISMATCH"
	FailTxRefMismatch       = "TX_REF_MISMATCH"
	FailSignatureInvalid    = "SIGNATURE_INVALID"
	FailSTHSignatureInvalid = "STH_SIGNATURE_INVALID"
	FailLogProofInvalid     = "LOG_PROOF_INVALID"
	FailHistoryInvalid      = "HISTORY_INVALID"
	FailCertificateMismatch = "CERTIFICATE_MISMATCH"
)

// EvidenceBundle is a self-contained export of one certificate: every signed
// transaction ever committed under its key, each with an inclusion proof
// against a signed tree head. It can be checked offline with only the
// ledger's tree-head public key.
type EvidenceBundle struct {
	Version       string             `json:"version"`
	CertificateID string             `json:"certificate_id"`
	Certificate   domain.Certificate `json:"certificate"`
	Transactions  []TransactionEntry `json:"transactions"`
	Digest        string             `json:"digest"`
}

type TransactionEntry struct {
	TxRef     string         `json:"tx_ref"`
	SignedTx  string         `json:"signed_tx"`
	Inclusion InclusionEntry `json:"inclusion"`
	STH       STHEntry       `json:"sth"`
}

type InclusionEntry struct {
	LeafIndex int64    `json:"leaf_index"`
	Path      []string `json:"path"`
}

type STHEntry struct {
	TreeSize  int64  `json:"tree_size"`
	RootHash  string `json:"root_hash"`
	IssuedAt  string `json:"issued_at"`
	Signature string `json:"signature"`
}

type VerificationResult struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

func BuildEvidenceBundle(evidence domain.CertificateEvidence) (EvidenceBundle, error) {
	if evidence.Certificate.ID == "" {
		return EvidenceBundle{}, errors.New("certificate id is required")
	}
	if len(evidence.Transactions) == 0 {
		return EvidenceBundle{}, errors.New("at least one transaction is required")
	}

	entries := make([]TransactionEntry, 0, len(evidence.Transactions))
	for _, item := range evidence.Transactions {
		if len(item.STH.Signature) == 0 {
			return EvidenceBundle{}, fmt.Errorf("sth for %s is unsigned", item.TxRef)
		}
		canonical, err := cryptoinfra.CanonicalSignedTransaction(item.Tx)
		if err != nil {
			return EvidenceBundle{}, err
		}
		entries = append(entries, TransactionEntry{
			TxRef:     string(item.TxRef),
			SignedTx:  base64.StdEncoding.EncodeToString(canonical),
			Inclusion: buildInclusionEntry(item.LeafIndex, item.Inclusion),
			STH:       buildSTHEntry(item.STH),
		})
	}

	bundle := EvidenceBundle{
		Version:       EvidenceBundleVersion,
		CertificateID: evidence.Certificate.ID,
		Certificate:   evidence.Certificate,
		Transactions:  entries,
	}
	digest, err := computeDigest(bundle)
	if err != nil {
		return EvidenceBundle{}, err
	}
	bundle.Digest = digest
	return bundle, nil
}

func MarshalEvidenceBundle(bundle EvidenceBundle) ([]byte, error) {
	return json.Marshal(bundle)
}

func UnmarshalEvidenceBundle(raw []byte) (EvidenceBundle, error) {
	var bundle EvidenceBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return EvidenceBundle{}, fmt.Errorf("decode evidence bundle: %w", err)
	}
	return bundle, nil
}

func ExportJSON(evidence domain.CertificateEvidence) ([]byte, error) {
	bundle, err := BuildEvidenceBundle(evidence)
	if err != nil {
		return nil, err
	}
	return MarshalEvidenceBundle(bundle)
}

// VerifyEvidenceBundle checks a bundle against the ledger's tree-head key. It
// never returns early on a failed check so that the result lists every
// problem found.
func VerifyEvidenceBundle(bundle EvidenceBundle, ledgerPubKey []byte) VerificationResult {
	failures := make(map[string]struct{})
	addFailure := func(code string) {
		failures[code] = struct{}{}
	}

	if bundle.Version != EvidenceBundleVersion || bundle.CertificateID == "" || len(bundle.Transactions) == 0 {
		addFailure(FailInvalidBundle)
		return finalizeResult(failures)
	}
	if digest, err := computeDigest(bundle); err != nil || digest != bundle.Digest {
		addFailure(FailDigestMismatch)
	}
	if bundle.Certificate.ID != bundle.CertificateID {
		addFailure(FailCertificateMismatch)
	}

	key := domain.CertificateKey(bundle.CertificateID)
	lastLeaf := int64(-1)
	revocations := 0
	var last *domain.SignedTransaction
	for i, entry := range bundle.Transactions {
		raw, err := base64.StdEncoding.DecodeString(entry.SignedTx)
		if err != nil {
			addFailure(FailInvalidBundle)
			continue
		}
		stx, err := cryptoinfra.DecodeSignedTransaction(raw)
		if err != nil {
			addFailure(FailInvalidBundle)
			continue
		}
		canonical, err := cryptoinfra.CanonicalSignedTransaction(stx)
		if err != nil || !bytes.Equal(canonical, raw) {
			addFailure(FailInvalidBundle)
			continue
		}
		leaf := merkle.LeafHash(raw)
		if string(cryptoinfra.TxRefFromLeaf(leaf)) != entry.TxRef {
			addFailure(FailTxRefMismatch)
		}
		if err := cryptoinfra.VerifyTransaction(stx); err != nil {
			addFailure(FailSignatureInvalid)
		}

		sth, err := parseSTHEntry(entry.STH)
		if err != nil {
			addFailure(FailInvalidBundle)
			continue
		}
		if err := cryptoinfra.VerifySTHSignature(sth, ledgerPubKey); err != nil {
			addFailure(FailSTHSignatureInvalid)
		}
		path, err := decodeHexList(entry.Inclusion.Path)
		if err != nil {
			addFailure(FailLogProofInvalid)
			continue
		}
		ok, err := merkle.VerifyInclusion(leaf, int(entry.Inclusion.LeafIndex), int(sth.TreeSize), path, sth.RootHash)
		if err != nil || !ok {
			addFailure(FailLogProofInvalid)
		}

		if !validHistoryStep(stx.Tx, key, i) || entry.Inclusion.LeafIndex <= lastLeaf {
			addFailure(FailHistoryInvalid)
		}
		if stx.Tx.Kind == domain.TxKindRevoke {
			revocations++
		}
		lastLeaf = entry.Inclusion.LeafIndex
		current := stx
		last = &current
	}
	if revocations > 1 {
		addFailure(FailHistoryInvalid)
	}
	if last == nil || !certificateMatches(last.Tx.Value, bundle.Certificate) {
		addFailure(FailCertificateMismatch)
	}
	return finalizeResult(failures)
}

// validHistoryStep reports whether tx can be the i-th committed write to key:
// the first creates the record and each later one names the version it saw.
func validHistoryStep(tx domain.Transaction, key string, i int) bool {
	if tx.Key != key {
		return false
	}
	if i == 0 {
		return tx.Kind == domain.TxKindIssue && tx.Precondition.ExpectAbsent
	}
	return tx.Kind == domain.TxKindRevoke && !tx.Precondition.ExpectAbsent && tx.Precondition.ExpectVersion == int64(i)
}

func certificateMatches(value []byte, want domain.Certificate) bool {
	var got domain.Certificate
	if err := json.Unmarshal(value, &got); err != nil {
		return false
	}
	gotJSON, err := json.Marshal(got)
	if err != nil {
		return false
	}
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return false
	}
	return bytes.Equal(gotJSON, wantJSON)
}

func buildSTHEntry(sth domain.STH) STHEntry {
	return STHEntry{
		TreeSize:  sth.TreeSize,
		RootHash:  hex.EncodeToString(sth.RootHash),
		IssuedAt:  sth.IssuedAt.UTC().Format(time.RFC3339Nano),
		Signature: base64.StdEncoding.EncodeToString(sth.Signature),
	}
}

func parseSTHEntry(entry STHEntry) (domain.STH, error) {
	root, err := hex.DecodeString(entry.RootHash)
	if err != nil {
		return domain.STH{}, fmt.Errorf("decode root hash: %w", err)
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, entry.IssuedAt)
	if err != nil {
		return domain.STH{}, fmt.Errorf("decode issued_at: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(entry.Signature)
	if err != nil {
		return domain.STH{}, fmt.Errorf("decode signature: %w", err)
	}
	return domain.STH{
		TreeSize:  entry.TreeSize,
		RootHash:  root,
		IssuedAt:  issuedAt.UTC(),
		Signature: sig,
	}, nil
}

func buildInclusionEntry(leafIndex int64, inclusion domain.InclusionProof) InclusionEntry {
	path := make([]string, 0, len(inclusion.Path))
	for _, node := range inclusion.Path {
		path = append(path, hex.EncodeToString(node))
	}
	return InclusionEntry{LeafIndex: leafIndex, Path: path}
}

func decodeHexList(values []string) ([][]byte, error) {
	out := make([][]byte, 0, len(values))
	for _, value := range values {
		raw, err := hex.DecodeString(value)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// computeDigest hashes the bundle with its digest field cleared.
func computeDigest(bundle EvidenceBundle) (string, error) {
	bundle.Digest = ""
	payload, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func finalizeResult(failures map[string]struct{}) VerificationResult {
	if len(failures) == 0 {
		return VerificationResult{Passed: true}
	}
	out := make([]string, 0, len(failures))
	for code := range failures {
		out = append(out, code)
	}
	sort.Strings(out)
	return VerificationResult{Passed: false, Failures: out}
}
