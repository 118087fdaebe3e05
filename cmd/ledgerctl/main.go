// Command ledgerctl talks to a running escrowledger over gRPC.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"EscrowLedger/internal/server"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "EscrowLedger client tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("addr", envOr("ESCROW_GRPC_ADDR", "localhost:9090"), "ledger gRPC address")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "per-call timeout")
	rootCmd.PersistentFlags().Int32("decimals", 0, "decimal places used to display and parse amounts")

	rootCmd.AddCommand(
		SubmitCmd(),
		SecretCmd(),
		BalanceCmd(),
		ClubCmd(),
		PlayerCmd(),
		OfferCmd(),
		GameCmd(),
		TransfersCmd(),
		JournalsCmd(),
		EscrowCmd(),
		IntegrityCmd(),
		RebuildCmd(),
		StatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withClient dials the ledger and runs fn under the configured timeout.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, client *server.LedgerClient) error) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client, err := server.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, client)
}

func decimalsFlag(cmd *cobra.Command) int32 {
	d, _ := cmd.Flags().GetInt32("decimals")
	return d
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
