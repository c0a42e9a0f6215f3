package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/trekmed/fieldsync/internal/record"
	"github.com/trekmed/fieldsync/internal/ui"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "File an incident report interactively",
	Long: `File a SOAP-format incident report for an enrolled participant.

The report is written to the local queue first, so it survives even with
no connectivity. If the gateway is reachable it is replayed immediately;
otherwise it stays queued and syncs on reconnect.

Example usage:
  fieldsync report --enrollment 4f7c21aa-90d1-4e57-a1f2-0b6a2f1c9d42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		enrollmentID, _ := cmd.Flags().GetString("enrollment")

		env, err := openEnv(stderrLogger("[report] "))
		if err != nil {
			return err
		}
		defer env.close()

		var (
			scene, subjective, objective, plan string
			heartRate, respRate, oxygenSat     string
			bloodPressure, consciousness       string
			withVitals                         bool
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Enrollment ID").
					Value(&enrollmentID).
					Validate(record.ValidateID),
				huh.NewText().
					Title("Scene").
					Description("Where and how the incident occurred").
					Value(&scene),
				huh.NewText().
					Title("Subjective").
					Description("What the patient reports").
					Value(&subjective),
				huh.NewText().
					Title("Objective").
					Description("What you observe").
					Value(&objective),
				huh.NewText().
					Title("Assessment / Plan").
					Value(&plan),
				huh.NewConfirm().
					Title("Record vital signs?").
					Value(&withVitals),
			),
			huh.NewGroup(
				huh.NewInput().Title("Heart rate (bpm)").Value(&heartRate).Validate(optionalInt),
				huh.NewInput().Title("Respiratory rate").Value(&respRate).Validate(optionalInt),
				huh.NewInput().Title("Blood pressure").Placeholder("120/80").Value(&bloodPressure),
				huh.NewInput().Title("O2 saturation (%)").Value(&oxygenSat).Validate(optionalInt),
				huh.NewInput().Title("Consciousness (AVPU)").Placeholder("A").Value(&consciousness),
			).WithHideFunc(func() bool { return !withVitals }),
		)

		if err := form.Run(); err != nil {
			return err
		}

		draft := record.IncidentReportDraft{
			ID:           record.NewID(),
			EnrollmentID: enrollmentID,
			Status:       record.StatusPending,
			Report: record.IncidentReport{
				Scene:          scene,
				Subjective:     subjective,
				Objective:      objective,
				AssessmentPlan: plan,
			},
		}
		draft.Touch()

		if withVitals {
			vitals := record.VitalSigns{
				TakenAt:       time.Now().UTC(),
				BloodPressure: bloodPressure,
				Consciousness: consciousness,
			}
			vitals.HeartRate, _ = strconv.Atoi(heartRate)
			vitals.RespiratoryRate, _ = strconv.Atoi(respRate)
			vitals.OxygenSaturation, _ = strconv.Atoi(oxygenSat)
			draft.Report.Vitals = []record.VitalSigns{vitals}
		}

		ctx := context.Background()

		if err := env.monitor.Start(ctx); err != nil {
			return err
		}
		defer env.monitor.Stop()

		if err := env.store.PutIncidentReportDraft(ctx, &draft); err != nil {
			return fmt.Errorf("failed to queue report: %w", err)
		}
		fmt.Println(ui.Pass("Report saved locally"))

		if !env.monitor.IsOnline() {
			fmt.Println(ui.Warn("Offline: report queued, it will sync on reconnect"))
			return nil
		}

		summary, err := env.engine.ReplayIncidentReports(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if summary.Failed > 0 {
			fmt.Println(ui.Warn("Report queued but not yet synced; it will be retried"))
		} else {
			fmt.Println(ui.Pass("Report synced"))
		}
		return nil
	},
}

// optionalInt accepts an empty value or a non-negative integer.
func optionalInt(s string) error {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("enter a whole number")
	}
	return nil
}

func init() {
	reportCmd.Flags().String("enrollment", "", "Enrollment ID the report is about")
	rootCmd.AddCommand(reportCmd)
}
