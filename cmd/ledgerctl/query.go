package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/server"

	"github.com/spf13/cobra"
)

// principalArg parses the single address argument of a read command.
func principalArg(args []string) (identity.Principal, error) {
	return identity.Parse(args[0])
}

func BalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Withdrawable balance and nonce of a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := principalArg(args)
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.GetBalance(ctx, &server.PrincipalRequest{Principal: p})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "principal\t%s\n", resp.Principal)
				fmt.Fprintf(w, "withdrawable\t%s\n", formatAmount(resp.Withdrawable, decimalsFlag(cmd)))
				fmt.Fprintf(w, "nonce\t%d\n", resp.Nonce)
				fmt.Fprintf(w, "as of\t%d\n", resp.AsOfSequence)
				return w.Flush()
			})
		},
	}
}

func ClubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "club <address>",
		Short: "Authorized budget and withdrawable balance of a club",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := principalArg(args)
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.GetClub(ctx, &server.PrincipalRequest{Principal: p})
				if err != nil {
					return err
				}
				decimals := decimalsFlag(cmd)
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "club\t%s\n", resp.Club)
				fmt.Fprintf(w, "authorized budget\t%s\n", formatAmount(resp.AuthorizedBudget, decimals))
				fmt.Fprintf(w, "withdrawable\t%s\n", formatAmount(resp.Withdrawable, decimals))
				fmt.Fprintf(w, "as of\t%d\n", resp.AsOfSequence)
				return w.Flush()
			})
		},
	}
}

func PlayerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "player <address>",
		Short: "Current contract of a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := principalArg(args)
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.GetPlayer(ctx, &server.PrincipalRequest{Principal: p})
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
}

func OfferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offer <player> <club>",
		Short: "Offer from a club to a player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := identity.Parse(args[0])
			if err != nil {
				return err
			}
			club, err := identity.Parse(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.GetOffer(ctx, &server.OfferRequest{Player: player, Club: club})
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
}

func GameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "game",
		Short: "Secret game state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.GetGame(ctx)
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
}

func addHistoryFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("limit", "l", 50, "page size")
	cmd.Flags().Int64("before", 0, "only entries before this sequence")
}

func historyRequest(cmd *cobra.Command, p identity.Principal) *server.HistoryRequest {
	limit, _ := cmd.Flags().GetInt("limit")
	before, _ := cmd.Flags().GetInt64("before")
	req := &server.HistoryRequest{Principal: p, Limit: limit}
	if before > 0 {
		req.BeforeSequence = &before
	}
	return req
}

func TransfersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers [address]",
		Short: "Completed transfers, optionally for one principal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p identity.Principal
			if len(args) == 1 {
				var err error
				if p, err = principalArg(args); err != nil {
					return err
				}
			}
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.ListTransfers(ctx, historyRequest(cmd, p))
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
	addHistoryFlags(cmd)
	return cmd
}

func JournalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journals <address>",
		Short: "Journal entries touching a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := principalArg(args)
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.ListJournals(ctx, historyRequest(cmd, p))
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
	addHistoryFlags(cmd)
	return cmd
}

func EscrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "escrow",
		Short: "Every open escrow account and the total held",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.GetEscrowSummary(ctx)
				if err != nil {
					return err
				}
				decimals := decimalsFlag(cmd)
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ACCOUNT\tBALANCE")
				for _, a := range resp.Accounts {
					fmt.Fprintf(w, "%s\t%s\n", a.AccountPath, formatAmount(a.Balance, decimals))
				}
				fmt.Fprintf(w, "total held\t%s\n", formatAmount(resp.TotalHeld, decimals))
				return w.Flush()
			})
		},
	}
}

func IntegrityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Check the hash chain and the ledger balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				report, err := client.VerifyIntegrity(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(report); err != nil {
					return err
				}
				if !report.IsHealthy {
					return fmt.Errorf("ledger is not healthy")
				}
				return nil
			})
		},
	}
}

func RebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-projections",
		Short: "Rebuild the read projections from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				if err := client.RebuildProjections(ctx); err != nil {
					return err
				}
				fmt.Println("projections rebuilt")
				return nil
			})
		},
	}
}

func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Sequence, state hash and readiness of the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
				resp, err := client.GetSystemStatus(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "sequence\t%d\n", resp.Sequence)
				fmt.Fprintf(w, "state hash\t%s\n", resp.StateHash.Hex())
				fmt.Fprintf(w, "total held\t%s\n", formatAmount(resp.TotalHeld, decimalsFlag(cmd)))
				fmt.Fprintf(w, "started\t%s\n", resp.StartTime.Format("2006-01-02 15:04:05 MST"))
				fmt.Fprintf(w, "ready\t%t\n", resp.Ready)
				return w.Flush()
			})
		},
	}
}
