package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/trekmed/fieldsync/internal/draft"
	"github.com/trekmed/fieldsync/internal/record"
	"github.com/trekmed/fieldsync/internal/ui"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Fill in a trip registration, saving a local draft as you go",
	Long: `Fill in the registration form for a trip.

The form is prefilled from your remote profile and latest enrollment when
the gateway is reachable, and from any local draft either way; local edits
win field by field. Choosing not to submit keeps the draft in the local
cache so a later session picks up where you left off.

Example usage:
  fieldsync register --trip 4f7c21aa-90d1-4e57-a1f2-0b6a2f1c9d42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tripID, _ := cmd.Flags().GetString("trip")
		if err := record.ValidateID(tripID); err != nil {
			return err
		}

		env, err := openEnv(stderrLogger("[register] "))
		if err != nil {
			return err
		}
		defer env.close()

		ctx := context.Background()

		if err := env.monitor.Start(ctx); err != nil {
			return err
		}
		defer env.monitor.Stop()

		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			session, err := env.gateway.Session(ctx)
			if err != nil {
				return fmt.Errorf("failed to decode access token: %w", err)
			}
			if session == nil {
				return fmt.Errorf("no access token configured; set FIELDSYNC_ACCESS_TOKEN or pass --user")
			}
			userID = session.UserID
		}

		persister := draft.New(env.store, env.gateway, 0,
			log.New(env.logger.Writer(), "[draft] ", log.LstdFlags))
		defer persister.Close()

		form, err := persister.Load(ctx, tripID, userID)
		if err != nil {
			return fmt.Errorf("failed to load registration form: %w", err)
		}

		var (
			weight = floatField(form.WeightKg)
			height = floatField(form.HeightCm)
			submit bool
		)

		f := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Emergency contact").Value(&form.EmergencyContact1),
				huh.NewInput().Title("Emergency phone").Value(&form.EmergencyPhone1),
				huh.NewInput().Title("Second contact").Value(&form.EmergencyContact2),
				huh.NewInput().Title("Second phone").Value(&form.EmergencyPhone2),
				huh.NewInput().Title("Insurer").Value(&form.Insurer),
			),
			huh.NewGroup(
				huh.NewInput().Title("Blood type").Placeholder("O+").Value(&form.BloodType),
				huh.NewInput().Title("Weight (kg)").Value(&weight).Validate(optionalFloat),
				huh.NewInput().Title("Height (cm)").Value(&height).Validate(optionalFloat),
				huh.NewInput().Title("Blood pressure").Placeholder("120/80").Value(&form.BloodPressure),
				huh.NewText().Title("Allergies").Value(&form.Allergies),
				huh.NewText().Title("Observations").Value(&form.Observations),
			),
			huh.NewGroup(
				huh.NewInput().Title("Address").Value(&form.Address),
				huh.NewInput().Title("City").Value(&form.City),
				huh.NewInput().Title("Province").Value(&form.Province),
				huh.NewInput().Title("Country").Value(&form.Country),
				huh.NewInput().Title("Menu preference").Placeholder("standard").Value(&form.Menu),
				huh.NewConfirm().
					Title("Submit now?").
					Description("No keeps the draft locally for a later session").
					Value(&submit),
			),
		)

		if err := f.Run(); err != nil {
			return err
		}

		form.WeightKg, _ = strconv.ParseFloat(weight, 64)
		form.HeightCm, _ = strconv.ParseFloat(height, 64)

		if !submit {
			if err := persister.Update(ctx, tripID, userID, form); err != nil {
				if errors.Is(err, draft.ErrAlreadyEnrolled) {
					fmt.Println(ui.Warn("You are already enrolled in this trip"))
					return nil
				}
				return err
			}
			persister.Flush()
			fmt.Println(ui.Pass("Draft saved locally"))
			return nil
		}

		if !env.monitor.IsOnline() {
			if err := persister.Update(ctx, tripID, userID, form); err != nil {
				return err
			}
			persister.Flush()
			fmt.Println(ui.Warn("Offline: draft saved, run `fieldsync register` again when connected to submit"))
			return nil
		}

		if err := persister.Submit(ctx, tripID, userID, form); err != nil {
			if errors.Is(err, draft.ErrAlreadyEnrolled) {
				fmt.Println(ui.Warn("You are already enrolled in this trip"))
				return nil
			}
			return err
		}

		fmt.Println(ui.Pass("Registration submitted"))
		return nil
	},
}

func floatField(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalFloat(s string) error {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return fmt.Errorf("enter a number")
	}
	return nil
}

func init() {
	registerCmd.Flags().String("trip", "", "Trip ID to register for (required)")
	registerCmd.Flags().String("user", "", "User ID (defaults to the access token subject)")
	_ = registerCmd.MarkFlagRequired("trip")
	rootCmd.AddCommand(registerCmd)
}
