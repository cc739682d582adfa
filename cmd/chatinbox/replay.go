package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"chatinbox/internal/config"
	"chatinbox/internal/domain"
	"chatinbox/internal/router"
	"chatinbox/internal/store"
	"chatinbox/internal/webhook"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func replayCmd() *cobra.Command {
	var tenantID string
	var offline bool

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Feed recorded webhook deliveries through the router",
		Long: `Reads a JSON array (or JSON lines) of webhook bodies and handles each one
for the given tenant against the configured database. Realtime broadcast,
relays, bots and outbound sends are disabled. One result per delivery is
printed as a JSON line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logCloser, err := loadConfig()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			tenant, ok := config.NewTenants(cfg.Tenants).Tenant(tenantID)
			if !ok {
				return fmt.Errorf("unknown tenant %q", tenantID)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.Database.Path, logger)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer db.Close()

			rc := router.Config{
				Store:          db,
				ContactDomain:  cfg.Identity.ContactDomain,
				FallbackPolicy: webhook.FallbackPolicy(cfg.Ingest.FallbackIDPolicy),
				Logger:         logger,
			}
			if !offline {
				rc.Lookup = newGateway(cfg)
			}

			n, err := replay(ctx, router.New(rc), tenant, data, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			logger.Info("replay finished", "tenant", tenant.ID, "deliveries", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id the deliveries belong to")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip gateway identity lookups")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

// replay handles every delivery in data and writes one Result per line to w.
func replay(ctx context.Context, r *router.Router, tenant domain.Tenant, data []byte, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	var (
		n      int
		encErr error
	)
	handle := func(raw string) bool {
		n++
		if err := enc.Encode(r.HandleBody(ctx, tenant, []byte(raw))); err != nil {
			encErr = err
			return false
		}
		return true
	}

	if root := gjson.ParseBytes(data); root.IsArray() {
		root.ForEach(func(_, v gjson.Result) bool { return handle(v.Raw) })
	} else {
		gjson.ForEachLine(string(data), func(line gjson.Result) bool {
			if line.Raw == "" {
				return true
			}
			return handle(line.Raw)
		})
	}
	return n, encErr
}
