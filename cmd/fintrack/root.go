package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/backend"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/log"
)

// app is the state shared by every subcommand. The backend is opened in
// the root's pre-run hook and closed once the command returns.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	loc     *time.Location
	store   backend.Backend
	cleanup backend.CleanupFunc
	user    string
	out     io.Writer
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer a.close()
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "fintrack",
		Short:         "Personal finance tracker administration",
		Long:          "Create transactions, recurring templates and budgets, run the recurring sweep and relay pending budget changes.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.user, "user", "u", os.Getenv("FINTRACK_USER"), "User ID (defaults to $FINTRACK_USER)")

	root.AddCommand(
		newSweepCmd(a),
		newOutboxCmd(a),
		newBudgetCmd(a),
		newTemplateCmd(a),
		newTxCmd(a),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	cli.LoadEnvFile()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	a.cfg = cfg
	a.logger = log.New(log.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: log.ComponentCLI,
		Output:    cmd.ErrOrStderr(),
	})
	a.loc = cfg.Location()
	a.out = cmd.OutOrStdout()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(a.logger).CreateBackend(cmd.Context(), bcfg)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	a.store = res.Backend
	a.cleanup = res.Cleanup
	return nil
}

func (a *app) close() {
	if a.cleanup == nil {
		return
	}
	if err := a.cleanup(); err != nil && a.logger != nil {
		a.logger.Error("Failed to close backend", log.FieldError, err)
	}
	a.cleanup = nil
}

func (a *app) requireUser() (string, error) {
	user := strings.TrimSpace(a.user)
	if user == "" {
		return "", errors.New("a user is required: pass --user or set FINTRACK_USER")
	}
	return user, nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDay accepts YYYY-MM-DD in the configured timezone or a full RFC 3339
// instant.
func (a *app) parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, a.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}
