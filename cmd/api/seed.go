package main

import (
	"context"
	"encoding/json"
	"fmt"

	"carebook/internal/completion"
	"carebook/internal/identity"
	"carebook/internal/patients"
	"carebook/internal/profile"
)

const (
	demoDoctorEmail  = "doctor@carebook.local"
	demoPatientEmail = "patient@carebook.local"
	demoPassword     = "carebook-demo"
)

// seedDemo registers a doctor with a completed profile, a patient with a
// completed profile, and a second patient record the doctor is assigned to.
// The patient account's own record is readable by that patient and by the
// doctor it is assigned to.
func seedDemo(ctx context.Context, accounts *identity.PasswordAuthenticator, profiles *profile.Repository, records *patients.Service) error {
	patientIdent, err := accounts.Register(ctx, identity.Credentials{Email: demoPatientEmail, Password: demoPassword}, "Asha Rao")
	if err != nil {
		return fmt.Errorf("seed patient account: %w", err)
	}
	patient := completion.Build(patientIdent, profile.RolePatient, profile.Details{
		FirstName: "Asha",
		LastName:  "Rao",
		Gender:    "female",
		DOB:       "1991-04-12",
		Height:    "162",
		Weight:    "58",
		City:      "Pune",
		Pincode:   "411001",
	})
	if err := profiles.Create(ctx, patient); err != nil {
		return fmt.Errorf("seed patient profile: %w", err)
	}
	patientID := completion.PatientDataID(patientIdent.ID)

	demoRecords := []patients.Record{
		{
			ID:       patientID,
			Name:     "Asha Rao",
			DOB:      "1991-04-12",
			Gender:   "female",
			HeightCM: 162,
			WeightKG: 58,
			Reports: []json.RawMessage{
				json.RawMessage(`{"type":"blood-panel","date":"2025-11-03","hemoglobin":12.8}`),
			},
		},
		{
			ID:       "PATIENT_DEMO0001",
			Name:     "Vikram Shah",
			DOB:      "1978-09-30",
			Gender:   "male",
			HeightCM: 175,
			WeightKG: 81,
			Reports: []json.RawMessage{
				json.RawMessage(`{"type":"ecg","date":"2025-10-18","summary":"normal sinus rhythm"}`),
				json.RawMessage(`{"type":"lipid-panel","date":"2025-10-18","ldl":131}`),
			},
		},
	}
	for _, rec := range demoRecords {
		if err := records.Put(ctx, rec); err != nil {
			return fmt.Errorf("seed patient record %s: %w", rec.ID, err)
		}
	}

	doctorIdent, err := accounts.Register(ctx, identity.Credentials{Email: demoDoctorEmail, Password: demoPassword}, "Meera Iyer")
	if err != nil {
		return fmt.Errorf("seed doctor account: %w", err)
	}
	doctor := completion.Build(doctorIdent, profile.RoleDoctor, profile.Details{
		FirstName:  "Meera",
		LastName:   "Iyer",
		Gender:     "female",
		Occupation: "General physician",
		City:       "Pune",
	})
	if d, ok := doctor.(profile.Doctor); ok {
		d.AssignedPatients = map[string]bool{patientID: true, "PATIENT_DEMO0001": true}
		doctor = d
	}
	if err := profiles.Create(ctx, doctor); err != nil {
		return fmt.Errorf("seed doctor profile: %w", err)
	}
	return nil
}
