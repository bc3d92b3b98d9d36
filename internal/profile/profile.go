// Package profile defines the application profile attached to a session
// identity. A profile is either a Patient or a Doctor; consumers switch on the
// concrete type.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a stored record cannot be parsed into a profile.
var ErrMalformed = errors.New("malformed profile record")

// Role tags the profile variant. It never changes once the profile is stored.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether r names a known variant.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Profile is implemented only by Patient and Doctor.
type Profile interface {
	Role() Role
	Identity() Base
	isProfile()
}

// Base carries the fields shared by every variant.
type Base struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Details holds the free-form demographic fields captured at profile completion.
type Details struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Gender     string `json:"gender"`
	DOB        string `json:"dob"`
	MobNo      string `json:"mobNo"`
	Occupation string `json:"occupation"`
	Height     string `json:"height"`
	Weight     string `json:"weight"`
	State      string `json:"state"`
	City       string `json:"city"`
	Pincode    string `json:"pincode"`
	Landmark   string `json:"landmark"`
}

// Patient links an identity to a patient record.
type Patient struct {
	Base
	PatientDataID string
	Details       Details
}

// Doctor holds the set of patient records assigned to the doctor.
type Doctor struct {
	Base
	AssignedPatients map[string]bool
	Details          Details
}

func (Patient) Role() Role {
	return RolePatient
}

func (p Patient) Identity() Base {
	return p.Base
}

func (Patient) isProfile() {}

func (Doctor) Role() Role {
	return RoleDoctor
}

func (d Doctor) Identity() Base {
	return d.Base
}

func (Doctor) isProfile() {}

// IsAssigned reports whether the patient record is flagged as assigned.
func (d Doctor) IsAssigned(patientID string) bool {
	return d.AssignedPatients[patientID]
}

// record is the stored shape of both variants.
type record struct {
	Base
	Role             Role            `json:"role"`
	PatientDataID    string          `json:"patientDataId,omitempty"`
	AssignedPatients map[string]bool `json:"assignedPatients,omitempty"`
	Profile          *Details        `json:"profile,omitempty"`
}

// Encode serializes a profile with its role tag.
func Encode(p Profile) ([]byte, error) {
	var rec record
	switch v := p.(type) {
	case Patient:
		details := v.Details
		rec = record{Base: v.Base, Role: RolePatient, PatientDataID: v.PatientDataID, Profile: &details}
	case Doctor:
		details := v.Details
		assigned := v.AssignedPatients
		if assigned == nil {
			assigned = map[string]bool{}
		}
		rec = record{Base: v.Base, Role: RoleDoctor, AssignedPatients: assigned, Profile: &details}
	default:
		return nil, fmt.Errorf("encode profile: unsupported type %T", p)
	}
	return json.Marshal(rec)
}

// Decode parses a stored record into the variant named by its role tag.
func Decode(raw []byte) (Profile, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.UID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrMalformed)
	}

	var details Details
	if rec.Profile != nil {
		details = *rec.Profile
	}

	switch rec.Role {
	case RolePatient:
		if rec.PatientDataID == "" {
			return nil, fmt.Errorf("%w: patient without patientDataId", ErrMalformed)
		}
		return Patient{Base: rec.Base, PatientDataID: rec.PatientDataID, Details: details}, nil
	case RoleDoctor:
		assigned := rec.AssignedPatients
		if assigned == nil {
			assigned = map[string]bool{}
		}
		return Doctor{Base: rec.Base, AssignedPatients: assigned, Details: details}, nil
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrMalformed, rec.Role)
	}
}
