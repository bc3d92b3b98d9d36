package profile

import (
	"context"
	"errors"
	"fmt"

	"carebook/internal/store"
)

// ErrExists is returned by Create when the identity already has a profile.
var ErrExists = errors.New("profile already exists")

// Repository reads and writes profiles at users/{identityId}.
type Repository struct {
	store store.Store
}

// NewRepository wires a Repository over the record store.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Lookup returns the profile stored for the identity, or (nil, nil) when none exists.
func (r *Repository) Lookup(ctx context.Context, identityID string) (Profile, error) {
	path, err := store.UserPath(identityID)
	if err != nil {
		return nil, err
	}

	raw, err := r.store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}

	p, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if p.Identity().UID != identityID {
		return nil, fmt.Errorf("decode %s: %w: uid %q does not match key", path, ErrMalformed, p.Identity().UID)
	}
	return p, nil
}

// Create stores a new profile keyed by its UID. It returns ErrExists when
// one is already stored, so the role of a profile is fixed by its first write.
func (r *Repository) Create(ctx context.Context, p Profile) error {
	path, raw, err := encodeAt(p)
	if err != nil {
		return err
	}

	if err := r.store.Create(ctx, path, raw); err != nil {
		if errors.Is(err, store.ErrExists) {
			return ErrExists
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// Save overwrites the profile keyed by its UID.
func (r *Repository) Save(ctx context.Context, p Profile) error {
	path, raw, err := encodeAt(p)
	if err != nil {
		return err
	}

	if err := r.store.Write(ctx, path, raw); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func encodeAt(p Profile) (string, store.Record, error) {
	path, err := store.UserPath(p.Identity().UID)
	if err != nil {
		return "", nil, err
	}
	raw, err := Encode(p)
	if err != nil {
		return "", nil, err
	}
	return path, raw, nil
}
