package main

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"vote-escrow/internal/address"
	"vote-escrow/internal/alias"
	dbpkg "vote-escrow/internal/db"
	"vote-escrow/internal/registry"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

// openRegistry connects to the database and loads the registry. owner is
// only used when the database has not been deployed to yet.
func (a *app) openRegistry(ctx context.Context, owner address.Address) (*registry.Registry, func(), error) {
	gormDB, err := dbpkg.Open(a.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect database: %w", err)
	}
	closeDB := func() {
		if err := dbpkg.Close(gormDB); err != nil {
			a.logger.Warn("close database", "component", programName, "error", err.Error())
		}
	}
	if err := dbpkg.AutoMigrate(gormDB); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	reg, err := registry.Open(ctx, registry.Options{
		Owner:  owner,
		Store:  dbpkg.NewStore(gormDB, a.logger),
		Logger: a.logger,
	})
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return reg, closeDB, nil
}

// withRegistry runs fn against the deployed registry.
func withRegistry(cmd *cobra.Command, fn func(ctx context.Context, a *app, reg *registry.Registry) error) error {
	a := appFrom(cmd)
	reg, closeDB, err := a.openRegistry(cmd.Context(), "")
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(cmd.Context(), a, reg)
}

func parseRoundID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: round id %q", registry.ErrInvalidArgument, s)
	}
	return id, nil
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q", registry.ErrInvalidArgument, s)
	}
	return v, nil
}

func deployCommand() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Initialise the registry with an owner (defaults to the caller)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			var (
				o   address.Address
				err error
			)
			if owner != "" {
				o, err = address.Parse(owner)
			} else {
				o, err = a.caller()
			}
			if err != nil {
				return err
			}
			reg, closeDB, err := a.openRegistry(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer closeDB()
			fmt.Fprintf(cmd.OutOrStdout(), "owner: %s\n", reg.Owner())
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address")
	return cmd
}

func createRoundCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create-round VOTER[,VOTER...] [VOTER...]",
		Short: "Open a round over the given candidates (owner only)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, a *app, reg *registry.Registry) error {
				caller, err := a.caller()
				if err != nil {
					return err
				}
				voters, err := address.ParseList(strings.Join(args, ","))
				if err != nil {
					return fmt.Errorf("%w: %v", registry.ErrInvalidArgument, err)
				}
				id, err := reg.CreateRound(ctx, caller, voters)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "round: %d\n", id)
				return nil
			})
		},
	}
}

func voteCommand() *cobra.Command {
	var payment string
	cmd := &cobra.Command{
		Use:   "vote ROUND CANDIDATE",
		Short: "Cast a vote, paying the fee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, a *app, reg *registry.Registry) error {
				caller, err := a.caller()
				if err != nil {
					return err
				}
				id, err := parseRoundID(args[0])
				if err != nil {
					return err
				}
				candidate, err := address.Parse(args[1])
				if err != nil {
					return fmt.Errorf("%w: candidate: %v", registry.ErrInvalidArgument, err)
				}
				amount, err := parseWei(payment)
				if err != nil {
					return err
				}
				leader, votes, err := reg.CastVote(ctx, caller, id, candidate, amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "leader: %s\nleader votes: %d\n", leader, votes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payment, "payment", registry.VoteFee.String(), "payment in wei")
	return cmd
}

func finalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize ROUND",
		Short: "Pay out a round whose deadline has passed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, a *app, reg *registry.Registry) error {
				caller, err := a.caller()
				if err != nil {
					return err
				}
				id, err := parseRoundID(args[0])
				if err != nil {
					return err
				}
				paid, err := reg.Finalize(ctx, caller, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "paid: %s wei\n", paid)
				return nil
			})
		},
	}
}

func withdrawCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw",
		Short: "Transfer the accumulated commission to the owner (owner only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, a *app, reg *registry.Registry) error {
				caller, err := a.caller()
				if err != nil {
					return err
				}
				amount, err := reg.Withdraw(ctx, caller)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "withdrawn: %s wei\n", amount)
				return nil
			})
		},
	}
}

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info ROUND",
		Short: "Show one round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, a *app, reg *registry.Registry) error {
				id, err := parseRoundID(args[0])
				if err != nil {
					return err
				}
				v, err := reg.RoundView(id)
				if err != nil {
					return err
				}
				names := alias.NewResolver(a.cfg.AliasesFile, a.logger)
				writeRound(cmd, v, names)
				return nil
			})
		},
	}
}

func writeRound(cmd *cobra.Command, v registry.View, names *alias.Resolver) {
	leader := "-"
	if !v.Leader.IsZero() {
		leader = names.Label(v.Leader)
	}
	voters := make([]string, len(v.Voters))
	for i, a := range v.Voters {
		voters[i] = names.Label(a)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "round:        %d\n", v.ID)
	fmt.Fprintf(out, "leader:       %s\n", leader)
	fmt.Fprintf(out, "leader votes: %d\n", v.LeaderVotes)
	fmt.Fprintf(out, "votes cast:   %d\n", v.VoteCount)
	fmt.Fprintf(out, "pool:         %s wei\n", v.Pool)
	fmt.Fprintf(out, "deadline:     %s\n", v.Deadline.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "open:         %t\n", v.Open)
	fmt.Fprintf(out, "finished:     %t\n", v.Finished)
	fmt.Fprintf(out, "voters:       %s\n", strings.Join(voters, ", "))
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all rounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, a *app, reg *registry.Registry) error {
				ov := reg.Overview()
				names := alias.NewResolver(a.cfg.AliasesFile, a.logger)
				fmt.Fprintf(cmd.OutOrStdout(), "owner: %s\ncommission: %s wei\n", names.Label(ov.Owner), ov.Commission)
				if len(ov.Rounds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no rounds")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), roundsTable(ov.Rounds, names))
				return nil
			})
		},
	}
}

func roundsTable(rounds []registry.View, names *alias.Resolver) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "LEADER", "LEADER VOTES", "VOTES", "POOL (WEI)", "DEADLINE", "STATE")
	for _, v := range rounds {
		leader := "-"
		if !v.Leader.IsZero() {
			leader = names.Label(v.Leader)
		}
		state := "closed"
		switch {
		case v.Finished:
			state = "finalized"
		case v.Open:
			state = "open"
		}
		t.Row(
			strconv.FormatUint(v.ID, 10),
			leader,
			strconv.FormatUint(v.LeaderVotes, 10),
			strconv.Itoa(v.VoteCount),
			v.Pool.String(),
			v.Deadline.Format("2006-01-02 15:04:05"),
			state,
		)
	}
	return t.String()
}

func balanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [ADDRESS]",
		Short: "Show what payouts and withdrawals credited to an address (defaults to the caller)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, a *app, reg *registry.Registry) error {
				var (
					who address.Address
					err error
				)
				if len(args) == 1 {
					who, err = address.Parse(args[0])
				} else {
					who, err = a.caller()
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s wei\n", who, reg.BalanceOf(who))
				if who == reg.Owner() {
					fmt.Fprintf(cmd.OutOrStdout(), "commission: %s wei\n", reg.Commission())
				}
				return nil
			})
		},
	}
}

func newAddressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new-address",
		Short: "Print a freshly generated address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), address.Generate())
			return nil
		},
	}
}
