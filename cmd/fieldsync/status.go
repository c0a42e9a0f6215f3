package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trekmed/fieldsync/internal/status"
	"github.com/trekmed/fieldsync/internal/store"
	"github.com/trekmed/fieldsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending counts and cache contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(stderrLogger("[status] "))
		if err != nil {
			return err
		}
		defer env.close()

		ctx := context.Background()

		if err := env.monitor.Start(ctx); err != nil {
			return err
		}
		defer env.monitor.Stop()

		proj := status.New(env.store, env.engine, env.monitor, env.logger)
		snap, err := proj.Current(ctx)
		if err != nil {
			return err
		}

		fmt.Println(ui.Header("Sync"))
		if snap.Online {
			fmt.Printf("  Gateway:  %s\n", ui.Pass("reachable"))
		} else {
			fmt.Printf("  Gateway:  %s\n", ui.Warn("offline"))
		}
		if snap.PendingCount > 0 {
			fmt.Printf("  Pending:  %s\n", ui.Warn(fmt.Sprintf("%d", snap.PendingCount)))
		} else {
			fmt.Printf("  Pending:  %d\n", snap.PendingCount)
		}
		if snap.LastSync != nil {
			fmt.Printf("  Last sync: %s (%d ok, %d failed)\n",
				snap.LastSync.FinishedAt.Format("2006-01-02 15:04:05"),
				snap.LastSync.Succeeded, snap.LastSync.Failed)
		}

		fmt.Println(ui.Header("Cache"))
		printCount(ctx, "Trips", env.store.TripCount)
		printCount(ctx, "Medical records", env.store.MedicalRecordCount)
		return nil
	},
}

func printCount(ctx context.Context, label string, count func(context.Context) (int, error)) {
	n, err := count(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			n = 0
		} else {
			fmt.Printf("  %s: %s\n", label, ui.Err(err.Error()))
			return
		}
	}
	fmt.Printf("  %s: %d\n", label, n)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
