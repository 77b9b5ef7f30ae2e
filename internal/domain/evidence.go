package domain

import "context"

// TransactionReader returns a committed signed transaction by reference.
type TransactionReader interface {
	Transaction(ctx context.Context, ref TxRef) (SignedTransaction, error)
}

// TxEvidence is one committed transaction with its inclusion proof under the
// tree head current when the proof was taken.
type TxEvidence struct {
	TxRef     TxRef
	Tx        SignedTransaction
	LeafIndex int64
	STH       STH
	Inclusion InclusionProof
}

// CertificateEvidence is everything needed to check a certificate's state
// without trusting the server: its committed transactions in ledger order and
// the certificate they produce.
type CertificateEvidence struct {
	Certificate  Certificate
	Transactions []TxEvidence
}
