package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"chatinbox/internal/bot"
	"chatinbox/internal/domain"
	"chatinbox/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// withStore loads the config, opens the store and runs fn.
func withStore(ctx context.Context, fn func(*store.SQLiteStore) error) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	db, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect conversations and manage bot assignment",
	}

	var tenantID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's most recent conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(db *store.SQLiteStore) error {
				convs, err := db.ListConversations(cmd.Context(), tenantID, limit)
				if err != nil {
					return fmt.Errorf("list conversations: %w", err)
				}
				printConversations(cmd.OutOrStdout(), convs)
				return nil
			})
		},
	}
	list.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id")
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum conversations to show")
	list.MarkFlagRequired("tenant")
	cmd.AddCommand(list)

	var msgLimit int
	messages := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Print the latest messages of a conversation as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(db *store.SQLiteStore) error {
				msgs, err := db.GetMessages(cmd.Context(), args[0], msgLimit)
				if err != nil {
					return fmt.Errorf("get messages: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, m := range msgs {
					if err := enc.Encode(m); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	messages.Flags().IntVarP(&msgLimit, "limit", "n", 50, "maximum messages to show")
	cmd.AddCommand(messages)

	cmd.AddCommand(&cobra.Command{
		Use:   "assign-bot <conversation-id> <bot-id>",
		Short: `Route a conversation's incoming messages to a bot ("" to unassign)`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logCloser, err := loadConfig()
			if err != nil {
				return err
			}
			logCloser.Close()
			if args[1] != "" {
				registry, err := bot.LoadRegistry(cfg.Bots.File, logger)
				if err != nil {
					return err
				}
				if _, ok := registry.Get(args[1]); !ok {
					return fmt.Errorf("unknown bot %q (known: %v)", args[1], registry.IDs())
				}
			}
			return withStore(cmd.Context(), func(db *store.SQLiteStore) error {
				conv, err := requireConversation(cmd.Context(), db, args[0])
				if err != nil {
					return err
				}
				if err := db.SetConversationBot(cmd.Context(), conv.ID, args[1]); err != nil {
					return fmt.Errorf("assign bot: %w", err)
				}
				logger.Info("bot assigned", "conversation", conv.ID, "bot", args[1])
				return nil
			})
		},
	})

	var unmute bool
	mute := &cobra.Command{
		Use:   "mute <conversation-id>",
		Short: "Mute (or with --off, unmute) realtime notifications for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(db *store.SQLiteStore) error {
				conv, err := requireConversation(cmd.Context(), db, args[0])
				if err != nil {
					return err
				}
				if err := db.SetConversationMuted(cmd.Context(), conv.ID, !unmute); err != nil {
					return fmt.Errorf("mute: %w", err)
				}
				logger.Info("conversation updated", "conversation", conv.ID, "muted", !unmute)
				return nil
			})
		},
	}
	mute.Flags().BoolVar(&unmute, "off", false, "unmute instead")
	cmd.AddCommand(mute)

	return cmd
}

func requireConversation(ctx context.Context, db *store.SQLiteStore, id string) (*domain.Conversation, error) {
	conv, err := db.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return conv, nil
}

func printConversations(w io.Writer, convs []domain.Conversation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTACT\tNAME\tUNREAD\tBOT\tLAST ACTIVITY")
	for _, c := range convs {
		last := "never"
		if !c.LastMessageAt.IsZero() {
			last = humanize.Time(c.LastMessageAt)
		}
		name := c.Name
		if c.IsMuted {
			name += " (muted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", c.ID, c.ContactID, name, c.UnreadCount, c.BotID, last)
	}
	tw.Flush()
}
