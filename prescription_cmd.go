package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/medrex/medsync/internal/records"
)

// Prescription flag values, bound per subcommand.
var (
	flagRxPatient    string
	flagRxMedication string
	flagRxDosage     string
	flagRxRefills    int
	flagRxNotes      string
)

func newPrescriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "prescription",
		Aliases: []string{"rx"},
		Short:   "Manage prescription records",
	}

	cmd.AddCommand(newRxAddCmd())
	cmd.AddCommand(newRxEditCmd())
	cmd.AddCommand(newRxRmCmd())
	cmd.AddCommand(newRxLsCmd())

	return cmd
}

func bindRxFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagRxPatient, "patient", "", "patient local ID")
	cmd.Flags().StringVar(&flagRxMedication, "medication", "", "medication name")
	cmd.Flags().StringVar(&flagRxDosage, "dosage", "", "dosage instructions")
	cmd.Flags().IntVar(&flagRxRefills, "refills", 0, "number of refills")
	cmd.Flags().StringVar(&flagRxNotes, "notes", "", "free-form notes")
}

func newRxAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a prescription record",
		RunE:  runRxAdd,
	}

	bindRxFlags(cmd)
	cobra.CheckErr(cmd.MarkFlagRequired("patient"))
	cobra.CheckErr(cmd.MarkFlagRequired("medication"))

	return cmd
}

func runRxAdd(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
	if err != nil {
		return err
	}
	defer a.close()

	p := &records.Prescription{
		PatientID:  flagRxPatient,
		Medication: flagRxMedication,
		Dosage:     flagRxDosage,
		Refills:    flagRxRefills,
		Notes:      flagRxNotes,
	}

	rec, err := a.prescriptions.Add(cmd.Context(), p)
	if err != nil {
		return err
	}

	if !flagQuiet {
		fmt.Printf("Added prescription %s (%s)\n", p.Medication, rec.LocalID)
	}

	return nil
}

func newRxEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit LOCAL_ID",
		Short: "Edit a prescription record",
		Args:  cobra.ExactArgs(1),
		RunE:  runRxEdit,
	}

	bindRxFlags(cmd)

	return cmd
}

func runRxEdit(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.store.GetRecord(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if rec == nil {
		return fmt.Errorf("no prescription with local ID %s", args[0])
	}

	var p records.Prescription
	if err := records.Unmarshal(rec.Fields, &p); err != nil {
		return err
	}

	if cmd.Flags().Changed("patient") {
		p.PatientID = flagRxPatient
	}

	if cmd.Flags().Changed("medication") {
		p.Medication = flagRxMedication
	}

	if cmd.Flags().Changed("dosage") {
		p.Dosage = flagRxDosage
	}

	if cmd.Flags().Changed("refills") {
		p.Refills = flagRxRefills
	}

	if cmd.Flags().Changed("notes") {
		p.Notes = flagRxNotes
	}

	if _, err := a.prescriptions.Edit(cmd.Context(), args[0], &p); err != nil {
		return err
	}

	if !flagQuiet {
		fmt.Printf("Updated prescription %s\n", args[0])
	}

	return nil
}

func newRxRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm LOCAL_ID",
		Short: "Remove a prescription record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.prescriptions.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}

			if !flagQuiet {
				fmt.Printf("Removed prescription %s\n", args[0])
			}

			return nil
		},
	}
}

func newRxLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List prescription records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
			if err != nil {
				return err
			}
			defer a.close()

			recs, rxs, err := a.prescriptions.List(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				type row struct {
					LocalID      string                `json:"local_id"`
					State        string                `json:"state"`
					Prescription *records.Prescription `json:"prescription"`
				}

				rows := make([]row, len(recs))
				for i := range recs {
					rows[i] = row{LocalID: recs[i].LocalID, State: string(recs[i].State), Prescription: rxs[i]}
				}

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(rows)
			}

			rows := make([][]string, len(recs))
			for i := range recs {
				rows[i] = []string{
					recs[i].LocalID,
					rxs[i].PatientID,
					truncate(rxs[i].Medication, 30),
					rxs[i].Dosage,
					string(recs[i].State),
				}
			}

			printTable(os.Stdout, []string{"LOCAL_ID", "PATIENT", "MEDICATION", "DOSAGE", "STATE"}, rows)

			return nil
		},
	}
}
