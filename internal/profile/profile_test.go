package profile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"carebook/internal/store"
)

func TestEncodeDecodePatientKeepsRoleTag(t *testing.T) {
	in := Patient{
		Base:          Base{UID: "u1", Email: "u1@example.com", DisplayName: "Asha Rao"},
		PatientDataID: "PATIENT_U1",
		Details:       Details{FirstName: "Asha", LastName: "Rao", City: "Pune"},
	}

	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if wire["role"] != "patient" || wire["patientDataId"] != "PATIENT_U1" {
		t.Fatalf("unexpected wire shape: %v", wire)
	}
	if _, ok := wire["assignedPatients"]; ok {
		t.Fatalf("patient record must not carry assignedPatients: %v", wire)
	}

	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	patient, ok := out.(Patient)
	if !ok {
		t.Fatalf("expected Patient, got %T", out)
	}
	if patient.PatientDataID != "PATIENT_U1" || patient.Details.City != "Pune" || patient.Identity().Email != "u1@example.com" {
		t.Fatalf("unexpected patient: %+v", patient)
	}
}

func TestDecodeDoctorDefaultsAssignedPatients(t *testing.T) {
	out, err := Decode([]byte(`{"uid":"d1","email":null,"displayName":"Dr. Mehta","role":"doctor"}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	doctor, ok := out.(Doctor)
	if !ok {
		t.Fatalf("expected Doctor, got %T", out)
	}
	if doctor.AssignedPatients == nil {
		t.Fatal("expected empty assigned patients map")
	}
	if doctor.IsAssigned("14FAD97B") {
		t.Fatal("expected no assignment")
	}
	if doctor.Role() != RoleDoctor {
		t.Fatalf("unexpected role %q", doctor.Role())
	}
}

func TestDecodeRejectsMalformedRecords(t *testing.T) {
	cases := map[string]string{
		"invalid json":       `{"uid":`,
		"missing role":       `{"uid":"u1"}`,
		"unknown role":       `{"uid":"u1","role":"nurse"}`,
		"missing uid":        `{"role":"doctor"}`,
		"patient without id": `{"uid":"u1","role":"patient"}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestRepositoryLookupMissReturnsNil(t *testing.T) {
	repo := NewRepository(store.NewMemoryStore(nil))

	p, err := repo.Lookup(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if p != nil {
		t.Fatalf("expected no profile, got %+v", p)
	}
}

func TestRepositorySaveThenLookup(t *testing.T) {
	s := store.NewMemoryStore(nil)
	repo := NewRepository(s)
	ctx := context.Background()

	doctor := Doctor{Base: Base{UID: "d1"}, AssignedPatients: map[string]bool{"14FAD97B": true}}
	if err := repo.Save(ctx, doctor); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := s.Read(ctx, "users/d1"); err != nil {
		t.Fatalf("expected record at users/d1: %v", err)
	}

	p, err := repo.Lookup(ctx, "d1")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	got, ok := p.(Doctor)
	if !ok || !got.IsAssigned("14FAD97B") {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestRepositoryLookupRejectsMismatchedUID(t *testing.T) {
	s := store.NewMemoryStore(map[string]store.Record{
		"users/u1": store.Record(`{"uid":"someone-else","role":"doctor"}`),
	})

	_, err := NewRepository(s).Lookup(context.Background(), "u1")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestRepositoryCreateRefusesSecondProfile(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemoryStore(nil))

	patient := Patient{Base: Base{UID: "u1"}, PatientDataID: "PATIENT_U1"}
	if err := repo.Create(ctx, patient); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := repo.Create(ctx, Doctor{Base: Base{UID: "u1"}}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, err := repo.Lookup(ctx, "u1")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if got.Role() != RolePatient {
		t.Fatalf("expected the first role to stick, got %s", got.Role())
	}
}

type failingStore struct {
	err error
}

func (f failingStore) Read(context.Context, string) (store.Record, error) {
	return nil, f.err
}

func (f failingStore) Write(context.Context, string, store.Record) error {
	return f.err
}

func (f failingStore) Create(context.Context, string, store.Record) error {
	return f.err
}

func (f failingStore) Delete(context.Context, string) error {
	return f.err
}

func TestRepositoryLookupPropagatesStoreFailure(t *testing.T) {
	failure := &store.Error{Kind: store.KindUnreachable, Op: "read", Path: "users/u2"}
	_, err := NewRepository(failingStore{err: failure}).Lookup(context.Background(), "u2")
	if !errors.Is(err, store.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}
