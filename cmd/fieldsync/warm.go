package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trekmed/fieldsync/internal/ui"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Download remote data into the local cache for offline use",
	Long: `Download remote data into the local cache so it stays available offline.

With --trip, one trip's enrollment roster is cached along with the medical
records of everyone enrolled. With --all, every trip, the condition catalog,
all enrollments and all reachable medical records are cached. Medical
records are fetched in chunks; a failed chunk is skipped so the rest of the
cache still warms.

Example usage:
  fieldsync warm --trip 4f7c21aa-90d1-4e57-a1f2-0b6a2f1c9d42
  fieldsync warm --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tripID, _ := cmd.Flags().GetString("trip")
		all, _ := cmd.Flags().GetBool("all")

		if (tripID == "") == !all {
			return fmt.Errorf("exactly one of --trip or --all is required")
		}

		env, err := openEnv(stderrLogger("[warm] "))
		if err != nil {
			return err
		}
		defer env.close()

		ctx := context.Background()

		if all {
			if err := env.engine.WarmAdminData(ctx); err != nil {
				return fmt.Errorf("warm failed: %w", err)
			}
			fmt.Println(ui.Pass("Cached all trips, enrollments and medical records"))
			return nil
		}

		if err := env.engine.WarmTrip(ctx, tripID); err != nil {
			return fmt.Errorf("warm failed: %w", err)
		}
		fmt.Println(ui.Pass("Cached roster and medical records for trip " + ui.Accent(tripID)))
		return nil
	},
}

func init() {
	warmCmd.Flags().String("trip", "", "Trip ID to cache")
	warmCmd.Flags().Bool("all", false, "Cache all trips and rosters")
	rootCmd.AddCommand(warmCmd)
}
