package domain

import "time"

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusRevoked
}

// Certificate is the ledger-committed record for one certificate id. Every
// field except Status and RevokedAt is fixed at issuance.
type Certificate struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Recipient string     `json:"recipient"`
	Issuer    string     `json:"issuer"`
	Status    Status     `json:"status"`
	IssuedAt  time.Time  `json:"issued_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (c Certificate) IsActive() bool {
	return c.Status == StatusActive
}

const certificateKeyPrefix = "certificates/"

// CertificateKey is the ledger key holding the record for id.
func CertificateKey(id string) string {
	return certificateKeyPrefix + id
}

type IssueInput struct {
	ID        string
	Name      string
	Recipient string
}

// TxRef is the hex-encoded leaf hash of a committed ledger transaction.
type TxRef string

func (r TxRef) String() string {
	return string(r)
}
