// Package records defines the domain record types carried through the sync
// engine and the services that mutate them. The services are the only
// writers of sync state: every create, edit, and remove goes through the
// mutation tracker so the engine always knows what it owes the server.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Entity type names as they appear in the store, the sync log, and API
// paths.
const (
	EntityPatients      = "patients"
	EntityPrescriptions = "prescriptions"
)

// dateLayout is the wire format for date-only fields.
const dateLayout = "2006-01-02"

// ErrInvalidRecord indicates domain validation failed before the mutation
// reached the tracker.
var ErrInvalidRecord = errors.New("records: invalid record")

// Patient is the demographic record for one person under care.
type Patient struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth"` // YYYY-MM-DD
	MRN         string `json:"mrn"`           // medical record number, free-form
	Notes       string `json:"notes,omitempty"`
}

// Validate checks required fields and normalizes the name to NFC so that
// the same name typed on macOS (NFD) and Linux (NFC) compares and syncs
// identically.
func (p *Patient) Validate() error {
	p.Name = canonicalName(p.Name)

	if p.Name == "" {
		return fmt.Errorf("%w: patient name is required", ErrInvalidRecord)
	}

	if p.DateOfBirth != "" {
		if _, err := time.Parse(dateLayout, p.DateOfBirth); err != nil {
			return fmt.Errorf("%w: date_of_birth must be YYYY-MM-DD: %v", ErrInvalidRecord, err)
		}
	}

	return nil
}

// Prescription is one medication order tied to a patient.
type Prescription struct {
	// PatientID references the patient record. Locally it holds the
	// patient's local ID; the push pipeline rewrites it to the patient's
	// server ID on the wire once the patient has synced (entity ordering
	// pushes patients first, so the rewrite usually succeeds within the
	// same cycle).
	PatientID  string `json:"patient_id"`
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`
	Refills    int    `json:"refills"`
	Notes      string `json:"notes,omitempty"`
}

// Validate checks required fields and normalizes the medication name.
func (p *Prescription) Validate() error {
	p.Medication = canonicalName(p.Medication)

	if p.PatientID == "" {
		return fmt.Errorf("%w: prescription needs a patient_id", ErrInvalidRecord)
	}

	if p.Medication == "" {
		return fmt.Errorf("%w: medication is required", ErrInvalidRecord)
	}

	if p.Refills < 0 {
		return fmt.Errorf("%w: refills must not be negative", ErrInvalidRecord)
	}

	return nil
}

// canonicalName trims whitespace and applies NFC normalization.
func canonicalName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Marshal encodes a domain struct to the JSON fields blob stored on a
// sync record.
func Marshal(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("records: encoding fields: %w", err)
	}

	return data, nil
}

// Unmarshal decodes a sync record's fields blob into a domain struct.
func Unmarshal(fields json.RawMessage, v any) error {
	if err := json.Unmarshal(fields, v); err != nil {
		return fmt.Errorf("records: decoding fields: %w", err)
	}

	return nil
}
