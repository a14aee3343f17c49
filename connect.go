package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Authorize the tenant with the file-storage provider",
		Long: `Run the OAuth authorization-code flow for the tenant principal.

Opens a local callback listener, prints the authorization URL, and stores
the resulting credential. Re-running replaces the stored credential.`,
		RunE: runConnect,
	}
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Revoke and remove the stored credential",
		RunE:  runDisconnect,
	}
}

func runConnect(cmd *cobra.Command, _ []string) error {
	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.tokens.Authorize(cmd.Context(), flagPrincipal, func(url string) error {
		// The authorization prompt must always be visible — not
		// suppressed by --quiet.
		fmt.Fprintf(os.Stderr, "To connect, visit:\n\n  %s\n\n", url)

		return nil
	})
	if err != nil {
		return err
	}

	statusf("Connected.\n")

	return nil
}

func runDisconnect(cmd *cobra.Command, _ []string) error {
	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tokens.Revoke(cmd.Context(), flagPrincipal); err != nil {
		return err
	}

	statusf("Disconnected.\n")

	return nil
}
