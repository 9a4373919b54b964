package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/racelock/veloengine/internal/domain/governance"
	infradb "github.com/racelock/veloengine/internal/infrastructure/db"
)

// newGovernanceCmd builds the `governance` command tree: list, get, accept,
// reject, rollback, ledger, versions, stats — the same eight Review API
// operations §6 names, as direct CLI calls for operators without a Review
// API client.
func newGovernanceCmd(dsn *string) *cobra.Command {
	withService := func(fn func(ctx context.Context, gov *governance.Service) error) error {
		if *dsn == "" {
			return fmt.Errorf("governance commands require --db-dsn (or VELOENGINE_DB_DSN)")
		}
		mgr, err := infradb.Connect(infradb.Config{DSN: *dsn, QueryTimeout: 10 * time.Second, MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: 30 * time.Minute})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer mgr.Close()
		gov := governance.NewService(mgr.Repos.Proposals, mgr.Repos.Ledger, mgr.Repos.Doctrine)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return fn(ctx, gov)
	}

	root := &cobra.Command{
		Use:   "governance",
		Short: "Review governance proposals and doctrine history (§4.15)",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals, optionally filtered by status/critic type",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFlag, _ := cmd.Flags().GetString("status")
			criticFlag, _ := cmd.Flags().GetString("critic-type")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			return withService(func(ctx context.Context, gov *governance.Service) error {
				var status *governance.Status
				if statusFlag != "" {
					s := governance.Status(statusFlag)
					status = &s
				}
				var critic *governance.CriticType
				if criticFlag != "" {
					c := governance.CriticType(criticFlag)
					critic = &c
				}
				proposals, err := gov.ListProposals(ctx, status, critic, limit, offset)
				if err != nil {
					return err
				}
				return printJSON(proposals)
			})
		},
	}
	listCmd.Flags().String("status", "", "filter by status (DRAFT|PENDING|ACCEPTED|REJECTED|ROLLED_BACK)")
	listCmd.Flags().String("critic-type", "", "filter by critic type (LEAKAGE|BIAS|FEATURE|DECISION)")
	listCmd.Flags().Int("limit", 50, "max rows to return")
	listCmd.Flags().Int("offset", 0, "pagination offset")

	getCmd := &cobra.Command{
		Use:   "get [proposal-id]",
		Short: "Show one proposal's detail, similar episodes, and ledger history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, gov *governance.Service) error {
				detail, err := gov.GetProposal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(detail)
			})
		},
	}

	acceptCmd := &cobra.Command{
		Use:   "accept [proposal-id]",
		Short: "Accept a pending proposal into doctrine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, _ := cmd.Flags().GetString("reviewer")
			rationale, _ := cmd.Flags().GetString("rationale")
			bumpFlag, _ := cmd.Flags().GetString("bump")
			if reviewer == "" || rationale == "" {
				return fmt.Errorf("--reviewer and --rationale are required")
			}
			bump := governance.ChangeMinor
			if bumpFlag != "" {
				bump = governance.ChangeType(bumpFlag)
			}
			return withService(func(ctx context.Context, gov *governance.Service) error {
				proposal, err := gov.Accept(ctx, args[0], reviewer, rationale, bump, nil)
				if err != nil {
					return err
				}
				return printJSON(proposal)
			})
		},
	}
	acceptCmd.Flags().String("reviewer", "", "reviewer identity (required)")
	acceptCmd.Flags().String("rationale", "", "human rationale for the decision (required)")
	acceptCmd.Flags().String("bump", "MINOR", "doctrine version bump (MAJOR|MINOR|PATCH)")

	rejectCmd := &cobra.Command{
		Use:   "reject [proposal-id]",
		Short: "Reject a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, _ := cmd.Flags().GetString("reviewer")
			rationale, _ := cmd.Flags().GetString("rationale")
			if reviewer == "" || rationale == "" {
				return fmt.Errorf("--reviewer and --rationale are required")
			}
			return withService(func(ctx context.Context, gov *governance.Service) error {
				proposal, err := gov.Reject(ctx, args[0], reviewer, rationale)
				if err != nil {
					return err
				}
				return printJSON(proposal)
			})
		},
	}
	rejectCmd.Flags().String("reviewer", "", "reviewer identity (required)")
	rejectCmd.Flags().String("rationale", "", "human rationale for the decision (required)")

	rollbackCmd := &cobra.Command{
		Use:   "rollback [proposal-id]",
		Short: "Roll back a previously accepted proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, _ := cmd.Flags().GetString("reviewer")
			rationale, _ := cmd.Flags().GetString("rationale")
			if reviewer == "" || rationale == "" {
				return fmt.Errorf("--reviewer and --rationale are required")
			}
			return withService(func(ctx context.Context, gov *governance.Service) error {
				proposal, err := gov.Rollback(ctx, args[0], reviewer, rationale)
				if err != nil {
					return err
				}
				return printJSON(proposal)
			})
		},
	}
	rollbackCmd.Flags().String("reviewer", "", "reviewer identity (required)")
	rollbackCmd.Flags().String("rationale", "", "human rationale for the decision (required)")

	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recent governance-ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withService(func(ctx context.Context, gov *governance.Service) error {
				entries, err := gov.GetLedger(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(entries)
			})
		},
	}
	ledgerCmd.Flags().Int("limit", 100, "max rows to return")

	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "Show doctrine version history",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withService(func(ctx context.Context, gov *governance.Service) error {
				versions, err := gov.DoctrineVersionHistory(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(versions)
			})
		},
	}
	versionsCmd.Flags().Int("limit", 50, "max rows to return")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show proposal counts, acceptance rate, and the active doctrine version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, gov *governance.Service) error {
				stats, err := gov.GetStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}

	root.AddCommand(listCmd, getCmd, acceptCmd, rejectCmd, rollbackCmd, ledgerCmd, versionsCmd, statsCmd)
	return root
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
