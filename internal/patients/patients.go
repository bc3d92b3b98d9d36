// Package patients reads and manages patient records at patients/{patientId}.
package patients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"

	"carebook/internal/profile"
	"carebook/internal/store"
)

const (
	idPrefix       = "HRID"
	maxIDAttempts  = 8
	newPatientName = "New Patient"
)

var (
	ErrNotFound  = errors.New("patient not found")
	ErrForbidden = errors.New("patient record not accessible")

	// ErrIDSpaceExhausted means no free record id was found.
	ErrIDSpaceExhausted = errors.New("no free patient id")
)

// Record is a stored patient record. Reports are kept opaque.
type Record struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	DOB      string            `json:"dob,omitempty"`
	Gender   string            `json:"gender,omitempty"`
	HeightCM float64           `json:"height_cm,omitempty"`
	WeightKG float64           `json:"weight_kg,omitempty"`
	Reports  []json.RawMessage `json:"reports,omitempty"`
}

// Validate checks the fields a doctor may set on a new record.
func (r Record) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(0, 100)),
		validation.Field(&r.DOB, validation.Date("2006-01-02")),
		validation.Field(&r.Gender, validation.In("male", "female", "other")),
		validation.Field(&r.HeightCM, validation.Min(0.0), validation.Max(300.0)),
		validation.Field(&r.WeightKG, validation.Min(0.0), validation.Max(700.0)),
	)
}

// Profiles is the profile storage the service needs to keep doctor
// assignments current.
type Profiles interface {
	Lookup(ctx context.Context, identityID string) (profile.Profile, error)
	Save(ctx context.Context, p profile.Profile) error
}

// Service gives profiles access to patient records.
type Service struct {
	store    store.Store
	profiles Profiles
	newID    func() string

	// assignMu serializes read-modify-write of doctor assignments.
	assignMu sync.Mutex
}

// NewService creates a Service over the record store. profiles holds the
// doctor profiles whose assignments Create and Remove update.
func NewService(s store.Store, profiles Profiles) *Service {
	return &Service{store: s, profiles: profiles, newID: NewID}
}

// NewID returns a record id of the form HRID followed by five digits.
func NewID() string {
	return fmt.Sprintf("%s%05d", idPrefix, 10000+rand.IntN(90000))
}

// CanView reports whether viewer may read the patient record id. A patient
// sees only its own record; a doctor sees the records assigned to it.
func CanView(viewer profile.Profile, id string) bool {
	switch v := viewer.(type) {
	case profile.Patient:
		return v.PatientDataID == id
	case profile.Doctor:
		return v.IsAssigned(id)
	default:
		return false
	}
}

// Get returns the record id as seen by viewer.
func (s *Service) Get(ctx context.Context, viewer profile.Profile, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if !CanView(viewer, id) {
		return Record{}, ErrForbidden
	}

	path, err := store.PatientPath(id)
	if err != nil {
		return Record{}, ErrNotFound
	}

	raw, err := s.store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read patient: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", path, err)
	}
	rec.ID = id
	return rec, nil
}

// Put stores rec at patients/{rec.ID}.
func (s *Service) Put(ctx context.Context, rec Record) error {
	path, err := store.PatientPath(rec.ID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode patient: %w", err)
	}
	if err := s.store.Write(ctx, path, raw); err != nil {
		return fmt.Errorf("write patient: %w", err)
	}
	return nil
}

// Create stores a new record under a fresh HRID id and assigns it to the
// creating doctor. Only doctors may create records.
func (s *Service) Create(ctx context.Context, viewer profile.Profile, rec Record) (Record, error) {
	var doctor profile.Doctor
	switch v := viewer.(type) {
	case profile.Doctor:
		doctor = v
	case profile.Patient:
		return Record{}, ErrForbidden
	default:
		return Record{}, ErrForbidden
	}

	rec.Name = strings.TrimSpace(rec.Name)
	rec.Gender = strings.ToLower(strings.TrimSpace(rec.Gender))
	rec.DOB = strings.TrimSpace(rec.DOB)
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	if rec.Name == "" {
		rec.Name = newPatientName
	}
	rec.Reports = nil

	created := false
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		rec.ID = s.newID()
		path, err := store.PatientPath(rec.ID)
		if err != nil {
			return Record{}, err
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return Record{}, fmt.Errorf("encode patient: %w", err)
		}
		err = s.store.Create(ctx, path, raw)
		if errors.Is(err, store.ErrExists) {
			continue
		}
		if err != nil {
			return Record{}, fmt.Errorf("create patient: %w", err)
		}
		created = true
		break
	}
	if !created {
		return Record{}, ErrIDSpaceExhausted
	}

	if err := s.assign(ctx, doctor.UID, rec.ID, true); err != nil {
		if path, pathErr := store.PatientPath(rec.ID); pathErr == nil {
			_ = s.store.Delete(ctx, path)
		}
		return Record{}, err
	}
	return rec, nil
}

// Remove deletes the record id and clears it from the doctor's assignments.
// Only a doctor the record is assigned to may remove it.
func (s *Service) Remove(ctx context.Context, viewer profile.Profile, id string) error {
	id = strings.TrimSpace(id)

	var doctor profile.Doctor
	switch v := viewer.(type) {
	case profile.Doctor:
		doctor = v
	case profile.Patient:
		return ErrForbidden
	default:
		return ErrForbidden
	}
	if !doctor.IsAssigned(id) {
		return ErrForbidden
	}

	path, err := store.PatientPath(id)
	if err != nil {
		return ErrNotFound
	}
	// Delete is idempotent, so a missing record is detected by reading first.
	missing := false
	if _, err := s.store.Read(ctx, path); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("read patient: %w", err)
		}
		missing = true
	}
	if !missing {
		if err := s.store.Delete(ctx, path); err != nil {
			return fmt.Errorf("delete patient: %w", err)
		}
	}

	if err := s.assign(ctx, doctor.UID, id, false); err != nil {
		return err
	}
	if missing {
		return ErrNotFound
	}
	return nil
}

// assign sets or clears id in the stored assignments of doctor uid.
func (s *Service) assign(ctx context.Context, uid, id string, assigned bool) error {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	p, err := s.profiles.Lookup(ctx, uid)
	if err != nil {
		return fmt.Errorf("load doctor profile: %w", err)
	}
	doctor, ok := p.(profile.Doctor)
	if !ok {
		return ErrForbidden
	}

	next := make(map[string]bool, len(doctor.AssignedPatients)+1)
	for k, v := range doctor.AssignedPatients {
		if v {
			next[k] = true
		}
	}
	if assigned {
		next[id] = true
	} else {
		delete(next, id)
	}
	doctor.AssignedPatients = next

	if err := s.profiles.Save(ctx, doctor); err != nil {
		return fmt.Errorf("save doctor assignments: %w", err)
	}
	return nil
}
