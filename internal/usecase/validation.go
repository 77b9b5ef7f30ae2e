package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"certledger/internal/domain"
)

const (
	maxIDLen        = 128
	maxNameLen      = 256
	maxRecipientLen = 128
	maxAddressLen   = 128
)

func validateIssueInput(in domain.IssueInput) error {
	if err := validateID(in.ID); err != nil {
		return err
	}
	if err := requireText("name", in.Name, maxNameLen); err != nil {
		return err
	}
	return requireText("recipient", in.Recipient, maxRecipientLen)
}

// Ids are addressed as a single URL path segment, so "/" is not allowed.
func validateID(id string) error {
	if err := requireText("id", id, maxIDLen); err != nil {
		return err
	}
	if strings.ContainsRune(id, '/') {
		return domain.InvalidInput("id", `must not contain "/"`)
	}
	return nil
}

// requireText rejects blank values. Accepted values are stored exactly as
// given, surrounding whitespace included.
func requireText(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return domain.InvalidInput(field, "is required")
	}
	if len(value) > maxLen {
		return domain.InvalidInput(field, fmt.Sprintf("exceeds %d bytes", maxLen))
	}
	if !utf8.ValidString(value) {
		return domain.InvalidInput(field, "is not valid UTF-8")
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return domain.InvalidInput(field, "contains control characters")
		}
	}
	return nil
}

// authorize requires an explicit identity and a positive decision from authz.
// Any failure to reach a decision is a denial.
func authorize(ctx context.Context, authz domain.Authorizer, req domain.AuthzRequest) error {
	if strings.TrimSpace(req.Requester.Address) == "" {
		return fmt.Errorf("%w: requester address is required", domain.ErrUnauthorized)
	}
	if err := requireText("requester", req.Requester.Address, maxAddressLen); err != nil {
		return err
	}
	if req.Requester.Signer == nil {
		return fmt.Errorf("%w: requester signer is required", domain.ErrUnauthorized)
	}
	if authz == nil {
		return fmt.Errorf("%w: no authorizer configured", domain.ErrUnauthorized)
	}
	if err := authz.Authorize(ctx, req); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return nil
}
