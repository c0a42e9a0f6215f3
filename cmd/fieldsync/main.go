package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first cache and sync engine for trip registrations",
	Long: `fieldsync keeps a local cache of trips, enrollments and medical records
so registration and incident reporting keep working without connectivity,
and replays queued writes to the remote gateway when it comes back.

Common workflows:
  fieldsync daemon                # Run the sync daemon with the status server
  fieldsync sync                  # Replay all pending local writes now
  fieldsync warm --trip <id>      # Cache one trip's roster and medical records
  fieldsync warm --all            # Cache everything (admin)
  fieldsync status                # Show pending counts and connectivity
  fieldsync register --trip <id>  # Fill in a trip registration form
  fieldsync report                # File an incident report interactively`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
