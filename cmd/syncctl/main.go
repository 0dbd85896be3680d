// syncctl reconciles one user's workspaces against the identity authority
// outside the login path. Operators use it after bulk membership changes on
// the authority side, or to switch a whole workspace off and on.
//
//	syncctl --user ana@example.com --dry-run
//	syncctl --user 6f1c...            # sync and print the result
//	syncctl --deactivate-workspace <workspace-id>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iris-platform/internal/audit"
	"iris-platform/internal/config"
	"iris-platform/internal/identity"
	"iris-platform/internal/workspace"
	"iris-platform/pkg/logger"
	"iris-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"
)

type options struct {
	user       string
	dryRun     bool
	deactivate string
	activate   string
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("syncctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.user, "user", "u", "", "identity id, email or username to synchronize")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "print the authority memberships without writing anything")
	flagSet.StringVar(&opts.deactivate, "deactivate-workspace", "", "deactivate the workspace with this id")
	flagSet.StringVar(&opts.activate, "activate-workspace", "", "reactivate the workspace with this id")
	flagSet.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}

	set := 0
	for _, v := range []string{opts.user, opts.deactivate, opts.activate} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return options{}, errors.New("exactly one of --user, --deactivate-workspace or --activate-workspace is required")
	}
	if opts.dryRun && opts.user == "" {
		return options{}, errors.New("--dry-run only applies to --user")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the report; logs go to stderr.
	log := logger.NewWithWriter(os.Stderr, cfg.App.Env)

	authority, err := identity.NewClient(cfg.Authority, log)
	if err != nil {
		return err
	}
	policy, err := workspace.ParseRolePolicy(cfg.Workspace.RolePolicy)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := workspace.Migrate(ctx, db); err != nil {
		return err
	}
	if err := audit.Migrate(ctx, db); err != nil {
		return err
	}

	auditSvc := audit.NewService(audit.NewPostgresRepo(db), log)
	s := syncer{
		authority:  authority,
		workspaces: workspace.NewService(workspace.NewPostgresRepo(db), policy, auditSvc, log),
		out:        stdout,
	}

	switch {
	case opts.deactivate != "":
		return s.setActive(ctx, opts.deactivate, false)
	case opts.activate != "":
		return s.setActive(ctx, opts.activate, true)
	default:
		return s.syncUser(ctx, opts.user, opts.dryRun)
	}
}
