package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd builds a fresh command tree with its own viper instance, so
// tests can run commands in isolation.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CERTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "certctl",
		Short:         "certctl talks to a certledger server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "certledger base URL")
	flags.String("address", "", "requester address (header auth)")
	flags.String("roles", "", "comma-separated requester roles (header auth)")
	flags.String("token", "", "bearer token (jwt auth)")
	flags.String("admin-key", "", "admin API key")
	flags.Duration("timeout", 10*time.Second, "request timeout")
	for _, name := range []string{"server", "address", "roles", "token", "admin-key", "timeout"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	clientFor := func() *client {
		return newClient(clientOptions{
			BaseURL:  v.GetString("server"),
			Address:  v.GetString("address"),
			Roles:    v.GetString("roles"),
			Token:    v.GetString("token"),
			AdminKey: v.GetString("admin-key"),
			Timeout:  v.GetDuration("timeout"),
		})
	}

	cmd.AddCommand(
		newIssueCmd(clientFor),
		newVerifyCmd(clientFor),
		newRevokeCmd(clientFor),
		newHistoryCmd(clientFor),
		newSTHCmd(clientFor),
		newEvidenceCmd(clientFor),
		newVerifyBundleCmd(),
	)
	return cmd
}

func newIssueCmd(clientFor func() *client) *cobra.Command {
	var id, name, recipient string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a certificate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]string{"id": id, "name": name, "recipient": recipient}
			return clientFor().call(cmd.Context(), cmd.OutOrStdout(), "POST", "/v1/certificates", body)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "certificate id")
	cmd.Flags().StringVar(&name, "name", "", "certificate name")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient address")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newVerifyCmd(clientFor func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Show a certificate and its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFor().call(cmd.Context(), cmd.OutOrStdout(), "GET", "/v1/certificates/"+escape(args[0]), nil)
		},
	}
}

func newRevokeCmd(clientFor func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFor().call(cmd.Context(), cmd.OutOrStdout(), "POST", "/v1/certificates/"+escape(args[0])+"/revoke", nil)
		},
	}
}

func newHistoryCmd(clientFor func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "List the ledger transactions for a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFor().call(cmd.Context(), cmd.OutOrStdout(), "GET", "/v1/certificates/"+escape(args[0])+"/history", nil)
		},
	}
}

func newSTHCmd(clientFor func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "sth",
		Short: "Show the latest signed tree head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return clientFor().call(cmd.Context(), cmd.OutOrStdout(), "GET", "/v1/ledger/sth", nil)
		},
	}
}
