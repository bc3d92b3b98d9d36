// Package store is the remote record store boundary: simple point reads,
// writes and deletes of JSON records addressed by slash-separated paths.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Read when no record exists at the path.
// It is a clean miss, not a failure.
var ErrNotFound = errors.New("record not found")

// ErrExists is returned by Create when a record is already stored at the path.
var ErrExists = errors.New("record already exists")

// Failure kinds. Match them with errors.Is.
var (
	ErrUnreachable      = errors.New("store unreachable")
	ErrPermissionDenied = errors.New("store permission denied")
)

// ErrInvalidPath is returned when a path segment is empty or contains a separator.
var ErrInvalidPath = errors.New("invalid record path")

// Record is the raw JSON payload stored at a path.
type Record []byte

// Store is implemented by every record backend.
type Store interface {
	Read(ctx context.Context, path string) (Record, error)
	Write(ctx context.Context, path string, record Record) error
	// Create stores record only when path is empty and returns ErrExists
	// otherwise. The check and the write are one atomic step.
	Create(ctx context.Context, path string, record Record) error
	Delete(ctx context.Context, path string) error
}

// Kind classifies a store failure.
type Kind string

const (
	KindUnreachable      Kind = "unreachable"
	KindPermissionDenied Kind = "permission-denied"
)

// Error describes a failed store operation.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s %s: %s", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("store %s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrPermissionDenied:
		return e.Kind == KindPermissionDenied
	}
	return false
}

func unreachable(op, path string, err error) error {
	return &Error{Kind: KindUnreachable, Op: op, Path: path, Err: err}
}

func permissionDenied(op, path string, err error) error {
	return &Error{Kind: KindPermissionDenied, Op: op, Path: path, Err: err}
}

const (
	usersRoot    = "users"
	patientsRoot = "patients"
	accountsRoot = "accounts"
	sessionsRoot = "sessions"
)

// UserPath addresses the application profile of an identity.
func UserPath(identityID string) (string, error) {
	return join(usersRoot, identityID)
}

// PatientPath addresses a patient record.
func PatientPath(patientID string) (string, error) {
	return join(patientsRoot, patientID)
}

// AccountPath addresses a password account keyed by a hashed email.
func AccountPath(emailHash string) (string, error) {
	return join(accountsRoot, emailHash)
}

// SessionPath addresses a persisted client session keyed by a hashed token.
func SessionPath(tokenHash string) (string, error) {
	return join(sessionsRoot, tokenHash)
}

func join(root, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %s/%q", ErrInvalidPath, root, id)
	}
	return root + "/" + id, nil
}
