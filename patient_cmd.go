package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/medrex/medsync/internal/records"
)

// Patient flag values, bound per subcommand.
var (
	flagPatientName  string
	flagPatientDOB   string
	flagPatientMRN   string
	flagPatientNotes string
)

func newPatientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage patient records",
		Long: `Create, edit, remove, and list patient records. All mutations
work offline and sync to the server on the next cycle.`,
	}

	cmd.AddCommand(newPatientAddCmd())
	cmd.AddCommand(newPatientEditCmd())
	cmd.AddCommand(newPatientRmCmd())
	cmd.AddCommand(newPatientLsCmd())

	return cmd
}

func bindPatientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagPatientName, "name", "", "patient full name")
	cmd.Flags().StringVar(&flagPatientDOB, "dob", "", "date of birth (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flagPatientMRN, "mrn", "", "medical record number")
	cmd.Flags().StringVar(&flagPatientNotes, "notes", "", "free-form notes")
}

func newPatientAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a patient record",
		RunE:  runPatientAdd,
	}

	bindPatientFlags(cmd)
	cobra.CheckErr(cmd.MarkFlagRequired("name"))

	return cmd
}

func runPatientAdd(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
	if err != nil {
		return err
	}
	defer a.close()

	p := &records.Patient{
		Name:        flagPatientName,
		DateOfBirth: flagPatientDOB,
		MRN:         flagPatientMRN,
		Notes:       flagPatientNotes,
	}

	rec, err := a.patients.Add(cmd.Context(), p)
	if err != nil {
		return err
	}

	if !flagQuiet {
		fmt.Printf("Added patient %s (%s)\n", p.Name, rec.LocalID)
	}

	return nil
}

func newPatientEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit LOCAL_ID",
		Short: "Edit a patient record",
		Long: `Update a patient record in place. Flags that are not passed
keep their existing values.`,
		Args: cobra.ExactArgs(1),
		RunE: runPatientEdit,
	}

	bindPatientFlags(cmd)

	return cmd
}

func runPatientEdit(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
	if err != nil {
		return err
	}
	defer a.close()

	_, p, err := a.patients.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if p == nil {
		return fmt.Errorf("no patient with local ID %s", args[0])
	}

	if cmd.Flags().Changed("name") {
		p.Name = flagPatientName
	}

	if cmd.Flags().Changed("dob") {
		p.DateOfBirth = flagPatientDOB
	}

	if cmd.Flags().Changed("mrn") {
		p.MRN = flagPatientMRN
	}

	if cmd.Flags().Changed("notes") {
		p.Notes = flagPatientNotes
	}

	if _, err := a.patients.Edit(cmd.Context(), args[0], p); err != nil {
		return err
	}

	if !flagQuiet {
		fmt.Printf("Updated patient %s\n", args[0])
	}

	return nil
}

func newPatientRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm LOCAL_ID",
		Short: "Remove a patient record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.patients.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}

			if !flagQuiet {
				fmt.Printf("Removed patient %s\n", args[0])
			}

			return nil
		},
	}
}

func newPatientLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List patient records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
			if err != nil {
				return err
			}
			defer a.close()

			recs, patients, err := a.patients.List(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				type row struct {
					LocalID string           `json:"local_id"`
					State   string           `json:"state"`
					Patient *records.Patient `json:"patient"`
				}

				rows := make([]row, len(recs))
				for i := range recs {
					rows[i] = row{LocalID: recs[i].LocalID, State: string(recs[i].State), Patient: patients[i]}
				}

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(rows)
			}

			rows := make([][]string, len(recs))
			for i := range recs {
				rows[i] = []string{
					recs[i].LocalID,
					truncate(patients[i].Name, 30),
					patients[i].DateOfBirth,
					string(recs[i].State),
				}
			}

			printTable(os.Stdout, []string{"LOCAL_ID", "NAME", "DOB", "STATE"}, rows)

			return nil
		},
	}
}
