package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	syncpkg "github.com/medrex/medsync/internal/sync"
)

// ErrPatientNotSynced indicates a prescription push ran before its patient
// reached the server. The push fails locally and is retried on a later
// cycle, once the patient has a server ID.
var ErrPatientNotSynced = errors.New("records: patient not yet synced")

// Mutator records local mutations. Satisfied by *sync.Tracker.
type Mutator interface {
	Create(ctx context.Context, entityType string, fields json.RawMessage) (*syncpkg.Record, error)
	Update(ctx context.Context, localID string, fields json.RawMessage) (*syncpkg.Record, error)
	Delete(ctx context.Context, localID string) error
}

// Lister reads records back for display. Satisfied by *sync.SQLiteStore.
type Lister interface {
	GetRecord(ctx context.Context, localID string) (*syncpkg.Record, error)
	ListAll(ctx context.Context, entityType string) ([]*syncpkg.Record, error)
}

// PatientService mutates patient records through the sync engine.
type PatientService struct {
	mutator Mutator
	store   Lister
	logger  *slog.Logger
}

// NewPatientService creates a PatientService.
func NewPatientService(mutator Mutator, store Lister, logger *slog.Logger) *PatientService {
	return &PatientService{mutator: mutator, store: store, logger: logger}
}

// Add validates and creates a patient record. Works fully offline; the
// record syncs on the next cycle.
func (s *PatientService) Add(ctx context.Context, p *Patient) (*syncpkg.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	fields, err := Marshal(p)
	if err != nil {
		return nil, err
	}

	rec, err := s.mutator.Create(ctx, EntityPatients, fields)
	if err != nil {
		return nil, err
	}

	s.logger.Info("patient added", slog.String("local_id", rec.LocalID), slog.String("name", p.Name))

	return rec, nil
}

// Edit validates and updates an existing patient record.
func (s *PatientService) Edit(ctx context.Context, localID string, p *Patient) (*syncpkg.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	fields, err := Marshal(p)
	if err != nil {
		return nil, err
	}

	return s.mutator.Update(ctx, localID, fields)
}

// Remove deletes a patient record locally; the deletion propagates on the
// next sync cycle.
func (s *PatientService) Remove(ctx context.Context, localID string) error {
	return s.mutator.Delete(ctx, localID)
}

// Get returns one patient with its sync metadata. The second return is the
// decoded patient, nil when the record does not exist.
func (s *PatientService) Get(ctx context.Context, localID string) (*syncpkg.Record, *Patient, error) {
	rec, err := s.store.GetRecord(ctx, localID)
	if err != nil || rec == nil {
		return nil, nil, err
	}

	var p Patient
	if err := Unmarshal(rec.Fields, &p); err != nil {
		return nil, nil, err
	}

	return rec, &p, nil
}

// List returns all patients with their sync metadata, excluding tombstones.
func (s *PatientService) List(ctx context.Context) ([]*syncpkg.Record, []*Patient, error) {
	recs, err := s.store.ListAll(ctx, EntityPatients)
	if err != nil {
		return nil, nil, err
	}

	var (
		kept     []*syncpkg.Record
		patients []*Patient
	)

	for _, rec := range recs {
		if rec.State == syncpkg.StatePendingDelete {
			continue
		}

		var p Patient
		if err := Unmarshal(rec.Fields, &p); err != nil {
			return nil, nil, err
		}

		kept = append(kept, rec)
		patients = append(patients, &p)
	}

	return kept, patients, nil
}

// NewPrescriptionRefRewriter returns the push-time rewriter that replaces a
// prescription's local patient reference with the patient's server ID, so
// the server can correlate the two records. The stored row keeps the local
// reference; only the wire payload changes. A patient_id that matches no
// local record is passed through unchanged — it already names a server
// record, e.g. on a prescription that first arrived via pull.
func NewPrescriptionRefRewriter(store Lister) syncpkg.FieldRewriter {
	return func(ctx context.Context, rec *syncpkg.Record) (json.RawMessage, error) {
		var p Prescription
		if err := Unmarshal(rec.Fields, &p); err != nil {
			return nil, err
		}

		patient, err := store.GetRecord(ctx, p.PatientID)
		if err != nil {
			return nil, err
		}

		if patient == nil {
			return rec.Fields, nil
		}

		if patient.ServerID == "" {
			return nil, fmt.Errorf("%w: patient %s", ErrPatientNotSynced, p.PatientID)
		}

		p.PatientID = patient.ServerID

		return Marshal(&p)
	}
}

// PrescriptionService mutates prescription records through the sync engine.
type PrescriptionService struct {
	mutator Mutator
	store   Lister
	logger  *slog.Logger
}

// NewPrescriptionService creates a PrescriptionService.
func NewPrescriptionService(mutator Mutator, store Lister, logger *slog.Logger) *PrescriptionService {
	return &PrescriptionService{mutator: mutator, store: store, logger: logger}
}

// Add validates and creates a prescription. The referenced patient must
// exist locally.
func (s *PrescriptionService) Add(ctx context.Context, p *Prescription) (*syncpkg.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	patient, err := s.store.GetRecord(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}

	if patient == nil {
		return nil, syncpkg.ErrRecordNotFound
	}

	fields, err := Marshal(p)
	if err != nil {
		return nil, err
	}

	rec, err := s.mutator.Create(ctx, EntityPrescriptions, fields)
	if err != nil {
		return nil, err
	}

	s.logger.Info("prescription added",
		slog.String("local_id", rec.LocalID),
		slog.String("patient_id", p.PatientID),
		slog.String("medication", p.Medication),
	)

	return rec, nil
}

// Edit validates and updates an existing prescription.
func (s *PrescriptionService) Edit(ctx context.Context, localID string, p *Prescription) (*syncpkg.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	fields, err := Marshal(p)
	if err != nil {
		return nil, err
	}

	return s.mutator.Update(ctx, localID, fields)
}

// Remove deletes a prescription locally.
func (s *PrescriptionService) Remove(ctx context.Context, localID string) error {
	return s.mutator.Delete(ctx, localID)
}

// List returns all prescriptions with their sync metadata, excluding
// tombstones.
func (s *PrescriptionService) List(ctx context.Context) ([]*syncpkg.Record, []*Prescription, error) {
	recs, err := s.store.ListAll(ctx, EntityPrescriptions)
	if err != nil {
		return nil, nil, err
	}

	var (
		kept  []*syncpkg.Record
		metas []*Prescription
	)

	for _, rec := range recs {
		if rec.State == syncpkg.StatePendingDelete {
			continue
		}

		var p Prescription
		if err := Unmarshal(rec.Fields, &p); err != nil {
			return nil, nil, err
		}

		kept = append(kept, rec)
		metas = append(metas, &p)
	}

	return kept, metas, nil
}
