package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"certledger/internal/infra/bundles"

	"github.com/spf13/cobra"
)

var errBundleRejected = errors.New("evidence bundle failed verification")

func newEvidenceCmd(clientFor func() *client) *cobra.Command {
	var outPath, ledgerKey string
	cmd := &cobra.Command{
		Use:   "evidence <id>",
		Short: "Export a certificate's evidence bundle",
		Long: "Fetch every ledger transaction for a certificate with its inclusion proof.\n" +
			"With --ledger-key the bundle is also checked locally before it is written.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := clientFor().fetch(cmd.Context(), "GET", "/v1/certificates/"+escape(args[0])+"/evidence", nil)
			if err != nil {
				return err
			}
			if ledgerKey != "" {
				bundle, err := bundles.UnmarshalEvidenceBundle(raw)
				if err != nil {
					return err
				}
				if err := checkBundle(cmd.ErrOrStderr(), bundle, ledgerKey); err != nil {
					return err
				}
			}
			if outPath == "" {
				return writeJSON(cmd.OutOrStdout(), raw)
			}
			return os.WriteFile(outPath, raw, 0o644)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the bundle to this file instead of stdout")
	cmd.Flags().StringVar(&ledgerKey, "ledger-key", "", "ledger tree-head public key (hex or base64) to verify with")
	return cmd
}

func newVerifyBundleCmd() *cobra.Command {
	var ledgerKey string
	cmd := &cobra.Command{
		Use:   "verify-bundle <file>",
		Short: "Check a saved evidence bundle without contacting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			bundle, err := bundles.UnmarshalEvidenceBundle(raw)
			if err != nil {
				return err
			}
			if err := checkBundle(cmd.OutOrStdout(), bundle, ledgerKey); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d transactions)\n",
				bundle.CertificateID, bundle.Certificate.Status, len(bundle.Transactions))
			return err
		},
	}
	cmd.Flags().StringVar(&ledgerKey, "ledger-key", "", "ledger tree-head public key (hex or base64)")
	_ = cmd.MarkFlagRequired("ledger-key")
	return cmd
}

func checkBundle(out io.Writer, bundle bundles.EvidenceBundle, ledgerKey string) error {
	pub, err := parsePublicKey(ledgerKey)
	if err != nil {
		return err
	}
	result := bundles.VerifyEvidenceBundle(bundle, pub)
	if !result.Passed {
		fmt.Fprintf(out, "verification failed: %s\n", strings.Join(result.Failures, ", "))
		return errBundleRejected
	}
	return nil
}

func parsePublicKey(value string) (ed25519.PublicKey, error) {
	value = strings.TrimSpace(value)
	if raw, err := hex.DecodeString(value); err == nil && len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	if raw, err := base64.StdEncoding.DecodeString(value); err == nil && len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	return nil, fmt.Errorf("ledger key must be a %d-byte ed25519 public key in hex or base64", ed25519.PublicKeySize)
}
