// Package completion creates the application profile for a signed-in
// identity that does not have one yet.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"

	"carebook/internal/identity"
	"carebook/internal/profile"
)

var (
	// ErrProfileExists is returned when the identity already has a profile.
	// The role of a stored profile never changes.
	ErrProfileExists = errors.New("profile already exists")
	// ErrWriteFailed means the profile could not be stored. The caller may retry.
	ErrWriteFailed = errors.New("failed to save profile")
)

// InvalidInputError lists the fields that failed validation.
type InvalidInputError struct {
	Fields map[string]string
}

func (e *InvalidInputError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid profile input: " + strings.Join(parts, "; ")
}

// Input is the submitted completion form.
type Input struct {
	Role    profile.Role    `json:"role"`
	Details profile.Details `json:"profile"`
}

// Profiles is the profile storage the writer needs.
type Profiles interface {
	Lookup(ctx context.Context, identityID string) (profile.Profile, error)
	Create(ctx context.Context, p profile.Profile) error
}

// ReResolver re-runs profile resolution for the current identity.
type ReResolver interface {
	ReResolve()
}

// Writer validates completion input and stores the resulting profile.
type Writer struct {
	profiles    Profiles
	phoneRegion string
	logger      *slog.Logger
}

// NewWriter creates a writer. phoneRegion is the ISO region used for mobile
// numbers entered without a country code.
func NewWriter(profiles Profiles, phoneRegion string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if phoneRegion == "" {
		phoneRegion = "IN"
	}
	return &Writer{
		profiles:    profiles,
		phoneRegion: strings.ToUpper(phoneRegion),
		logger:      logger.With("component", "completion"),
	}
}

// Complete builds the profile variant for in.Role, writes it at
// users/{ident.ID} and, only once the write has succeeded, asks after to
// re-resolve. On any failure the auth state is left untouched.
func (w *Writer) Complete(ctx context.Context, ident identity.Identity, in Input, after ReResolver) (profile.Profile, error) {
	if ident.ID == "" {
		return nil, identity.ErrNoIdentity
	}

	in = prefillName(in, ident.DisplayName)
	details, err := w.normalize(in)
	if err != nil {
		return nil, err
	}

	existing, err := w.profiles.Lookup(ctx, ident.ID)
	if err != nil {
		w.logger.Warn("profile lookup before completion failed", "identity_id", ident.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if existing != nil {
		return nil, ErrProfileExists
	}

	p := Build(ident, in.Role, details)
	if err := w.profiles.Create(ctx, p); err != nil {
		if errors.Is(err, profile.ErrExists) {
			return nil, ErrProfileExists
		}
		w.logger.Warn("profile write failed", "identity_id", ident.ID, "role", in.Role, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	w.logger.Info("profile completed", "identity_id", ident.ID, "role", in.Role)
	if after != nil {
		after.ReResolve()
	}
	return p, nil
}

// Build creates exactly one profile variant for role.
func Build(ident identity.Identity, role profile.Role, details profile.Details) profile.Profile {
	base := profile.Base{
		UID:         ident.ID,
		Email:       ident.Email,
		DisplayName: displayName(details, ident.DisplayName),
	}

	switch role {
	case profile.RoleDoctor:
		return profile.Doctor{Base: base, AssignedPatients: map[string]bool{}, Details: details}
	default:
		return profile.Patient{Base: base, PatientDataID: PatientDataID(ident.ID), Details: details}
	}
}

// PatientDataID derives the patient record id from the identity id.
func PatientDataID(identityID string) string {
	prefix := identityID
	if runes := []rune(identityID); len(runes) > 8 {
		prefix = string(runes[:8])
	}
	return "PATIENT_" + strings.ToUpper(prefix)
}

func displayName(d profile.Details, fallback string) string {
	name := strings.TrimSpace(d.FirstName + " " + d.LastName)
	if name == "" {
		return strings.TrimSpace(fallback)
	}
	return name
}

// prefillName splits the provider display name into first and last name
// when the form left both empty.
func prefillName(in Input, name string) Input {
	if strings.TrimSpace(in.Details.FirstName) != "" || strings.TrimSpace(in.Details.LastName) != "" {
		return in
	}
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	in.Details.FirstName = first
	in.Details.LastName = strings.TrimSpace(last)
	return in
}

func (w *Writer) normalize(in Input) (profile.Details, error) {
	d := trimDetails(in.Details)

	err := validation.Errors{
		"role": validation.Validate(string(in.Role),
			validation.Required,
			validation.In(string(profile.RolePatient), string(profile.RoleDoctor)),
		),
		"firstName":  validation.Validate(d.FirstName, validation.Required, validation.Length(1, 100)),
		"lastName":   validation.Validate(d.LastName, validation.Length(0, 100)),
		"gender":     validation.Validate(strings.ToLower(d.Gender), validation.In("male", "female", "other")),
		"dob":        validation.Validate(d.DOB, validation.Date("2006-01-02")),
		"mobNo":      validation.Validate(d.MobNo, validation.By(w.validPhone)),
		"occupation": validation.Validate(d.Occupation, validation.Length(0, 100)),
		"height":     validation.Validate(d.Height, is.Float),
		"weight":     validation.Validate(d.Weight, is.Float),
		"state":      validation.Validate(d.State, validation.Length(0, 100)),
		"city":       validation.Validate(d.City, validation.Length(0, 100)),
		"pincode":    validation.Validate(d.Pincode, is.Digit, validation.Length(4, 10)),
		"landmark":   validation.Validate(d.Landmark, validation.Length(0, 200)),
	}.Filter()
	if err != nil {
		return profile.Details{}, invalidInput(err)
	}

	d.Gender = strings.ToLower(d.Gender)
	if d.MobNo != "" {
		num, _ := phonenumbers.Parse(d.MobNo, w.phoneRegion)
		d.MobNo = phonenumbers.Format(num, phonenumbers.E164)
	}
	return d, nil
}

func (w *Writer) validPhone(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	num, err := phonenumbers.Parse(s, w.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid mobile number")
	}
	return nil
}

func trimDetails(d profile.Details) profile.Details {
	for _, f := range []*string{
		&d.FirstName, &d.LastName, &d.Gender, &d.DOB, &d.MobNo, &d.Occupation,
		&d.Height, &d.Weight, &d.State, &d.City, &d.Pincode, &d.Landmark,
	} {
		*f = strings.TrimSpace(*f)
	}
	return d
}

func invalidInput(err error) error {
	fields := map[string]string{}
	var errs validation.Errors
	if errors.As(err, &errs) {
		for k, v := range errs {
			fields[k] = v.Error()
		}
	} else {
		fields["input"] = err.Error()
	}
	return &InvalidInputError{Fields: fields}
}
