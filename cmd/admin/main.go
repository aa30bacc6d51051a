// Package main is the admin CLI: EPIN generation, manual session triggers,
// fund distributions, rank recalculation and wallet interventions.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"compengine/internal/config"
	"compengine/internal/di"
	"compengine/internal/domain"
	"compengine/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Compensation engine admin operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newGenerateEPINsCmd(),
		newTriggerSessionCmd(),
		newDistributeFundsCmd(),
		newDistributeRoyaltyCmd(),
		newLevelStarCmd(),
		newAllocateTravelCmd(),
		newRecalcRanksCmd(),
		newCreditCmd(),
		newReverseCmd(),
		newWithdrawCmd(),
		newReconcileCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// wire builds a container for one admin invocation.
func wire() (*di.Container, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	log := logger.New(logger.Config{Level: "warn", Pretty: true})
	container, err := di.Wire(cfg, log)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	return container, log, nil
}

func newGenerateEPINsCmd() *cobra.Command {
	var qty int
	var pkg, createdBy string

	cmd := &cobra.Command{
		Use:   "generate-epins",
		Short: "Generate a batch of EPINs for a package",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			codes, err := c.EPINs.Generate(qty, pkg, createdBy)
			if err != nil {
				return err
			}
			for _, code := range codes {
				fmt.Println(code)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&qty, "qty", 10, "number of EPINs to generate")
	cmd.Flags().StringVar(&pkg, "package", "silver", "package code (silver, gold, ruby)")
	cmd.Flags().StringVar(&createdBy, "created-by", "admin", "creator tag")
	return cmd
}

func newTriggerSessionCmd() *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:   "trigger-session",
		Short: "Run one session for today immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.SessionJob.TriggerSessionNow(index)
			if err != nil {
				return err
			}
			if result.AlreadyRan {
				fmt.Printf("session %d already processed, 0 new pairs\n", index)
				return nil
			}
			fmt.Printf("session %d: %d pairs paid, %d failures\n", index, result.PairsPaid, len(result.Failures))
			for _, failure := range result.Failures {
				fmt.Println("  failed:", failure)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "index", 1, "session index (1-8)")
	return cmd
}

func newDistributeFundsCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "distribute-funds",
		Short: "Distribute the monthly car and house pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			car, err := c.Funds.DistributeCarFund(month)
			if err != nil {
				return err
			}
			house, err := c.Funds.DistributeHouseFund(month)
			if err != nil {
				return err
			}
			fmt.Printf("car: %.2f across %d users, house: %.2f across %d users\n",
				car.Pool, len(car.Eligible), house.Pool, len(house.Eligible))
			return nil
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "month key (YYYY-MM)")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func newDistributeRoyaltyCmd() *cobra.Command {
	var ctoBV float64

	cmd := &cobra.Command{
		Use:   "distribute-royalty",
		Short: "Run a royalty cycle over the given or accumulated CTO BV",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			if ctoBV <= 0 {
				if ctoBV, err = c.BV.CTOTotal(); err != nil {
					return err
				}
			}
			if ctoBV <= 0 {
				fmt.Println("no CTO BV accumulated, nothing to distribute")
				return nil
			}

			result, err := c.Distribution.DistributeRoyalty(ctoBV)
			if err != nil {
				return err
			}
			fmt.Printf("pool %.2f, desired %.2f, paid %.2f across %d users\n",
				result.Pool, result.TotalDesired, result.TotalPaid, len(result.Shares))
			return nil
		},
	}

	cmd.Flags().Float64Var(&ctoBV, "cto", 0, "cycle CTO BV (defaults to the accumulated total)")
	return cmd
}

func newLevelStarCmd() *cobra.Command {
	var userID string
	var ctoBV float64

	cmd := &cobra.Command{
		Use:   "level-star",
		Short: "Pay a user's level-star bonus for a cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Distribution.LevelStarBonus(userID, ctoBV)
			if err != nil {
				return err
			}
			fmt.Printf("counts %v, paid %v, total %.2f\n", result.Counts, result.Paid, result.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().Float64Var(&ctoBV, "cto", 0, "cycle CTO BV")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("cto")
	return cmd
}

func newAllocateTravelCmd() *cobra.Command {
	var year int
	var total float64

	cmd := &cobra.Command{
		Use:   "allocate-travel",
		Short: "Record the yearly travel fund allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			allocations, err := c.Funds.AllocateTravelFund(year, total)
			if err != nil {
				return err
			}
			for _, alloc := range allocations {
				fmt.Printf("%s: %.2f (min rank %d)\n", alloc.Scope, alloc.Amount, alloc.MinRankIndex)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", 0, "allocation year")
	cmd.Flags().Float64Var(&total, "total", 0, "total travel fund amount")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}

func newRecalcRanksCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "recalc-ranks",
		Short: "Rebuild a user's pair counters from the processed-pair history",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Ranks.Recalculate(userID); err != nil {
				return err
			}
			fmt.Println("rank state recalculated for", userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCreditCmd() *cobra.Command {
	var userID, note string
	var amount float64

	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Credit a user's wallet manually",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			txID, err := c.Wallets.Credit(userID, amount, domain.CategoryAdmin, "admin:manual", note)
			if err != nil {
				return err
			}
			fmt.Println("credited, tx", txID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount to credit")
	cmd.Flags().StringVar(&note, "note", "manual admin credit", "ledger note")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newReverseCmd() *cobra.Command {
	var userID, origTx, note string
	var amount float64

	cmd := &cobra.Command{
		Use:   "reverse",
		Short: "Reverse a mistaken credit by debiting it back",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			txID, err := c.Wallets.Debit(userID, amount, domain.CategoryReversal, "reversal:"+origTx, note)
			if err != nil {
				return err
			}
			fmt.Println("reversed, tx", txID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount to reverse")
	cmd.Flags().StringVar(&origTx, "orig-tx", "", "tx id of the credited row being reversed")
	cmd.Flags().StringVar(&note, "note", "admin reversal", "ledger note")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("orig-tx")
	return cmd
}

func newWithdrawCmd() *cobra.Command {
	var txID string
	var reject bool

	cmd := &cobra.Command{
		Use:   "resolve-withdraw",
		Short: "Approve or reject a pending withdrawal",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			if reject {
				if err := c.Wallets.RejectWithdraw(txID); err != nil {
					return err
				}
				fmt.Println("withdrawal rejected, hold released")
				return nil
			}
			if err := c.Wallets.ApproveWithdraw(txID); err != nil {
				return err
			}
			fmt.Println("withdrawal approved and finalized")
			return nil
		},
	}

	cmd.Flags().StringVar(&txID, "tx", "", "withdrawal tx id")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Cross-check every wallet against its ledger sum",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := wire()
			if err != nil {
				return err
			}
			defer c.Close()

			mismatched, err := c.Wallets.ReconcileAll()
			if err != nil && !errors.Is(err, domain.ErrLedgerInvariant) {
				return err
			}
			if len(mismatched) > 0 {
				return fmt.Errorf("%d wallets out of balance: %v", len(mismatched), mismatched)
			}
			fmt.Println("all wallets reconciled")
			return nil
		},
	}
}
