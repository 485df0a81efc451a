package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/duyttran/syncline/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and dead letter status for all configured stores",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	queueRepo := postgres.NewQueueRepo(db)
	dlqRepo := postgres.NewDeadLetterRepo(db)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STORE\tPENDING\tFAILED\tDEAD\tSYNCED TODAY\tOLDEST PENDING")

	for _, store := range cfg.Stores {
		stats, err := queueRepo.Stats(ctx, store.StoreID)
		if err != nil {
			slog.Error("Failed to query stats", "store", store.StoreID, "error", err)
			continue
		}
		dlStats, err := dlqRepo.Stats(ctx, store.StoreID)
		if err != nil {
			slog.Error("Failed to query dead letter stats", "store", store.StoreID, "error", err)
			continue
		}

		oldest := "-"
		if stats.OldestPending != nil {
			oldest = stats.OldestPending.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
			store.StoreID, stats.Pending, stats.Failed, dlStats.Total, stats.SyncedToday, oldest)
	}
	_ = w.Flush()
}
