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

var (
	dlStore      string
	dlLimit      int
	dlCleanupAge int
)

var deadLetterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect and manage the dead letter pool",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered items for a store",
	Run:   runDeadLetterList,
}

var deadLetterRestoreCmd = &cobra.Command{
	Use:   "restore [id...]",
	Short: "Restore dead-lettered items back to the retry pool",
	Args:  cobra.MinimumNArgs(1),
	Run:   runDeadLetterRestore,
}

var deadLetterCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Permanently delete aged dead-lettered items",
	Run:   runDeadLetterCleanup,
}

func init() {
	deadLetterListCmd.Flags().StringVar(&dlStore, "store", "", "store id (required)")
	deadLetterListCmd.Flags().IntVar(&dlLimit, "limit", 50, "max items to list")
	_ = deadLetterListCmd.MarkFlagRequired("store")

	deadLetterCleanupCmd.Flags().IntVar(&dlCleanupAge, "older-than-days", 30, "delete items dead-lettered longer than this many days ago")

	deadLetterCmd.AddCommand(deadLetterListCmd, deadLetterRestoreCmd, deadLetterCleanupCmd)
	rootCmd.AddCommand(deadLetterCmd)
}

func openDeadLetterRepo() (*postgres.DB, *postgres.DeadLetterRepo) {
	cfg := loadConfig()

	db, err := postgres.NewDB(context.Background(), cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return db, postgres.NewDeadLetterRepo(db)
}

func runDeadLetterList(cmd *cobra.Command, args []string) {
	db, repo := openDeadLetterRepo()
	defer func() {
		_ = db.Close()
	}()

	items, err := repo.List(context.Background(), dlStore, dlLimit)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tENTITY\tOPERATION\tREASON\tCATEGORY\tATTEMPTS\tLAST ERROR")
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\t%d\t%s\n",
			it.ID, it.EntityType, it.EntityID, it.Operation,
			it.DeadLetterReason, it.ErrorCategory, it.SyncAttempts, it.LastSyncError)
	}
	_ = w.Flush()
}

func runDeadLetterRestore(cmd *cobra.Command, args []string) {
	db, repo := openDeadLetterRepo()
	defer func() {
		_ = db.Close()
	}()

	restored, err := repo.RestoreMany(context.Background(), args)
	if err != nil {
		slog.Error("Failed to restore items", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Restored %d of %d items\n", restored, len(args))
}

func runDeadLetterCleanup(cmd *cobra.Command, args []string) {
	db, repo := openDeadLetterRepo()
	defer func() {
		_ = db.Close()
	}()

	deleted, err := repo.Cleanup(context.Background(), dlCleanupAge)
	if err != nil {
		slog.Error("Failed to cleanup dead letters", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d dead-lettered items older than %d days\n", deleted, dlCleanupAge)
}
