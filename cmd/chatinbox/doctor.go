package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"chatinbox/internal/bot"
	"chatinbox/internal/config"
	"chatinbox/internal/store"

	"github.com/spf13/cobra"
)

// checkReport tallies doctor results.
type checkReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies the config file, database, tenants, bot registry and gateway
reachability. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep := &checkReport{out: cmd.OutOrStdout()}
			fmt.Fprintf(rep.out, "chatinbox doctor v%s\n\n", version)

			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err != nil {
				rep.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(rep.out, "\nRun 'chatinbox init' to create a default configuration.\n")
				return fmt.Errorf("no config file")
			}
			rep.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				rep.fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", rep.failed)
			}
			rep.pass("Config validation", "valid")

			runChecks(cmd.Context(), cfg, rep)

			fmt.Fprintf(rep.out, "\nResults: %d passed, %d warnings, %d failed\n", rep.passed, rep.warned, rep.failed)
			if rep.failed > 0 {
				return fmt.Errorf("%d check(s) failed", rep.failed)
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, cfg *config.Config, rep *checkReport) {
	if db, err := store.Open(ctx, cfg.Database.Path, logger); err != nil {
		rep.fail("Database", err.Error())
	} else {
		v, err := db.SchemaVersion(ctx)
		db.Close()
		if err != nil {
			rep.fail("Database", err.Error())
		} else {
			rep.pass("Database", fmt.Sprintf("%s (schema v%d)", cfg.Database.Path, v))
		}
	}

	if len(cfg.Tenants) == 0 {
		rep.fail("Tenants", "none configured")
	}
	for _, t := range cfg.Tenants {
		switch {
		case t.WebhookSecret == "":
			rep.warn("Tenant "+t.ID, "no webhookSecret, deliveries are not authenticated")
		case t.GatewayToken == "":
			rep.warn("Tenant "+t.ID, "no gatewayToken, identity lookups will fail")
		default:
			rep.pass("Tenant "+t.ID, "configured")
		}
	}

	if reg, err := bot.LoadRegistry(cfg.Bots.File, logger); err != nil {
		rep.fail("Bots", err.Error())
	} else {
		rep.pass("Bots", fmt.Sprintf("%d registered", len(reg.IDs())))
	}

	if err := checkReachable(ctx, cfg.Gateway.APIBase); err != nil {
		rep.warn("Gateway", fmt.Sprintf("%s unreachable: %v", cfg.Gateway.APIBase, err))
	} else {
		rep.pass("Gateway", cfg.Gateway.APIBase)
	}

	if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
		rep.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
	} else {
		rep.pass("Server port", fmt.Sprintf("%s:%d available", cfg.Server.Host, cfg.Server.Port))
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			rep.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			rep.pass("Log file", cfg.General.LogFile)
		}
	}
}

// checkReachable reports whether anything answers HTTP at base. Any status
// code counts; only transport errors fail.
func checkReachable(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}
