// Command ledgerctl runs maintenance tasks against the ledger database: migrations, seeding,
// integrity reports, reconciliation, schedule previews and audit log verification.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/amortization"
	"github.com/example/bank-ledger/internal/app"
	"github.com/example/bank-ledger/internal/config"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/logging"
	"github.com/example/bank-ledger/pkg/audit"
)

// errFindings makes the process exit non-zero when a report finds problems.
var errFindings = cli.Exit("", 2)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			if msg := err.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exit.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:           "ledgerctl",
		Usage:          "operate the double-entry ledger",
		Writer:         out,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: withBooks(func(c *cli.Context, b *books) error { return b.store.Migrate(c.Context) }),
			},
			{
				Name:  "seed",
				Usage: "insert the default chart of accounts",
				Action: withBooks(func(c *cli.Context, b *books) error {
					n, err := b.engine.SeedChartOfAccounts(c.Context)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, map[string]int{"inserted": n})
				}),
			},
			{
				Name:  "validate",
				Usage: "run an integrity report",
				Subcommands: []*cli.Command{
					{
						Name: "journals",
						Action: withBooks(func(c *cli.Context, b *books) error {
							r, err := b.validator.ValidateJournalEntries(c.Context)
							return report(c, r, err, func() bool { return r.IsValid })
						}),
					},
					{
						Name: "accounts",
						Action: withBooks(func(c *cli.Context, b *books) error {
							r, err := b.validator.ValidateAccountBalances(c.Context)
							return report(c, r, err, func() bool { return r.IsValid })
						}),
					},
					{
						Name: "trial-balance",
						Action: withBooks(func(c *cli.Context, b *books) error {
							r, err := b.validator.ValidateTrialBalance(c.Context)
							return report(c, r, err, func() bool { return r.IsBalanced })
						}),
					},
					{
						Name:  "all",
						Usage: "run every check",
						Action: withBooks(func(c *cli.Context, b *books) error {
							results, err := b.validator.ComprehensiveValidation(c.Context)
							return report(c, results, err, func() bool {
								for _, r := range results {
									if !r.IsValid {
										return false
									}
								}
								return true
							})
						}),
					},
				},
			},
			{
				Name:      "reconcile",
				Usage:     "reset an account's cached balance to its ledger balance",
				ArgsUsage: "<account-id>",
				Action: withBooks(func(c *cli.Context, b *books) error {
					if c.NArg() != 1 {
						return cli.Exit("reconcile needs exactly one account id", 1)
					}
					r, err := b.validator.ReconcileAccount(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, r)
				}),
			},
			{
				Name:  "schedule",
				Usage: "preview a loan amortization schedule",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "principal", Required: true},
					&cli.StringFlag{Name: "rate", Usage: "annual percentage", Required: true},
					&cli.IntFlag{Name: "tenure", Usage: "months", Required: true},
				},
				Action: schedule,
			},
			{
				Name:      "audit-verify",
				Usage:     "check the hash chain of an audit log file",
				ArgsUsage: "<file>",
				Action:    verifyAudit,
			},
		},
	}
}

type books struct {
	store     ledger.Store
	engine    *ledger.Engine
	validator *ledger.Validator
}

func withBooks(fn func(c *cli.Context, b *books) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		store, err := app.OpenStore(c.Context, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		locks := app.LockRegistry(cfg.Ledger, nil)
		engine := ledger.NewEngine(store,
			ledger.WithLogger(logger),
			ledger.WithLockRegistry(locks),
			ledger.WithRetryPolicy(app.RetryPolicy(cfg.Ledger)))
		validator := ledger.NewValidator(store, ledger.WithLogger(logger), ledger.WithLockRegistry(locks))
		logger.Debug("ledgerctl", zap.String("command", c.Command.FullName()))
		return fn(c, &books{store: store, engine: engine, validator: validator})
	}
}

func report(c *cli.Context, v any, err error, ok func() bool) error {
	if err != nil {
		return err
	}
	if err := printJSON(c.App.Writer, v); err != nil {
		return err
	}
	if !ok() {
		return errFindings
	}
	return nil
}

func schedule(c *cli.Context) error {
	principal, err := decimal.NewFromString(c.String("principal"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("principal: %v", err), 1)
	}
	rate, err := decimal.NewFromString(c.String("rate"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("rate: %v", err), 1)
	}
	s, err := amortization.GenerateSchedule(amortization.Terms{
		Principal:    principal,
		AnnualRate:   rate,
		TenureMonths: c.Int("tenure"),
		Start:        time.Now().UTC(),
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return printJSON(c.App.Writer, s)
}

func verifyAudit(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("audit-verify needs the log file", 1)
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()
	entries, err := audit.ReadChain(f)
	if err != nil {
		return err
	}
	result := struct {
		Entries int    `json:"entries"`
		Valid   bool   `json:"valid"`
		BreakAt uint64 `json:"break_at_sequence,omitempty"`
	}{Entries: len(entries), Valid: true}
	if i := audit.FirstBreak(entries); i >= 0 {
		result.Valid = false
		result.BreakAt = entries[i].Sequence
	}
	if err := printJSON(c.App.Writer, result); err != nil {
		return err
	}
	if !result.Valid {
		return errFindings
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
