package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows appointment listings. Zero values mean "no filter";
// DoctorID/CreatorID are set by the service when the caller's grant is
// own-scoped.
type ListFilter struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	CreatorID string
	From      time.Time
	To        time.Time
}

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update persists a mutation and bumps version_id; it fails with
	// ErrNotFound when the row's version no longer matches, so status
	// legality is validated against committed state, not read state.
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// HasActiveAt reports whether a slot-occupying appointment exists
	// for (doctorID, at), ignoring excludeID. Must run inside the same
	// transaction as the write it guards.
	HasActiveAt(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error)
	// CountDoneByPatient backs the visit classifier.
	CountDoneByPatient(ctx context.Context, patientID uuid.UUID) (int, error)
}
