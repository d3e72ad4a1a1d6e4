package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parlor-ai/parlor/internal/config"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/postgres"
	"github.com/parlor-ai/parlor/internal/thread"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage conversation threads",
}

func init() {
	threadsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List threads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), runThreadsList)
		},
	})
	threadsCmd.AddCommand(&cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show a thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *thread.Store) error {
				return runThreadsShow(ctx, store, args[0])
			})
		},
	})
	threadsCmd.AddCommand(&cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *thread.Store) error {
				return runThreadsDelete(ctx, store, args[0])
			})
		},
	})
	rootCmd.AddCommand(threadsCmd)
}

// withStore connects to the configured database and runs fn with a
// thread store.
func withStore(ctx context.Context, fn func(context.Context, *thread.Store) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres.URL())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	store := thread.NewStore(thread.NewQueries(pool), pool, log.NewNop())
	return fn(ctx, store)
}

func runThreadsList(ctx context.Context, store *thread.Store) error {
	threads, err := store.ListThreads(ctx, 100, 0)
	if err != nil {
		return fmt.Errorf("listing threads: %w", err)
	}
	if len(threads) == 0 {
		fmt.Println("No threads.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tAGENT\tMESSAGES\tUPDATED")
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.Title, t.Agent, t.MessageCount,
			t.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runThreadsShow(ctx context.Context, store *thread.Store, id string) error {
	threadID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid thread id %q", id)
	}
	t, err := store.GetThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("loading thread: %w", err)
	}
	msgs, err := store.History(ctx, threadID.String())
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	fmt.Printf("%s (%s, %d messages)\n\n", t.Title, t.Agent, len(msgs))
	for _, msg := range msgs {
		raw, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding message %s: %w", msg.ID, err)
		}
		fmt.Printf("%s\n", raw)
	}
	return nil
}

func runThreadsDelete(ctx context.Context, store *thread.Store, id string) error {
	threadID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid thread id %q", id)
	}
	if err := store.DeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	fmt.Printf("Deleted thread %s\n", threadID)
	return nil
}
