package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/domain/directory"
)

var (
	// ErrSlotConflict is returned when an active appointment already
	// occupies the (doctor, instant) slot.
	ErrSlotConflict = errors.New("slot conflict")
	// ErrInvalidStateTransition is returned for any illegal status
	// change, including any mutation of a terminal appointment.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrNotFound is returned when the appointment does not exist.
	ErrNotFound = errors.New("appointment not found")
)

// Status is the appointment lifecycle state. The happy path is
// PENDING -> CONFIRMED -> ARRIVED -> DONE; CANCELLED, NO_SHOW and
// TRANSFERRED branch off from any non-terminal state.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusArrived     Status = "ARRIVED"
	StatusDone        Status = "DONE"
	StatusCancelled   Status = "CANCELLED"
	StatusNoShow      Status = "NO_SHOW"
	StatusTransferred Status = "TRANSFERRED"
)

// ParseStatus validates a status string from a request.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusArrived, StatusDone,
		StatusCancelled, StatusNoShow, StatusTransferred:
		return Status(s), nil
	}
	return "", errors.New("unknown status: " + s)
}

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusCancelled, StatusNoShow, StatusTransferred:
		return true
	}
	return false
}

// OccupiesSlot reports whether an appointment in this status blocks its
// (doctor, instant) slot. Cancelled and no-show appointments release it.
func (s Status) OccupiesSlot() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// transitions is the single place the legality of every status change
// is defined. Handlers and services never test statuses ad hoc.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusArrived, StatusDone, StatusCancelled, StatusNoShow, StatusTransferred},
	StatusConfirmed: {StatusArrived, StatusDone, StatusCancelled, StatusNoShow, StatusTransferred},
	StatusArrived:   {StatusDone, StatusCancelled, StatusNoShow, StatusTransferred},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// VisitType distinguishes a patient's first completed encounter from
// followups. Fixed at creation, never recomputed.
type VisitType string

const (
	VisitPrimary VisitType = "PRIMARY"
	VisitRepeat  VisitType = "REPEAT"
)

// Appointment maps to the appointment table: one scheduled
// patient-doctor encounter.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	ServiceID          uuid.UUID  `db:"service_id" json:"service_id"`
	DepartmentID       uuid.UUID  `db:"department_id" json:"department_id"`
	ScheduledAt        time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status             Status     `db:"status" json:"status"`
	VisitType          VisitType  `db:"visit_type" json:"visit_type"`
	PrepaymentAmount   float64    `db:"prepayment_amount" json:"prepayment_amount"`
	FinalPaymentAmount float64    `db:"final_payment_amount" json:"final_payment_amount"`
	Comment            *string    `db:"comment" json:"comment,omitempty"`
	CreatorID          string     `db:"creator_id" json:"creator_id"`
	ArrivedAt          *time.Time `db:"arrived_at" json:"arrived_at,omitempty"`
	ArrivedBy          *string    `db:"arrived_by" json:"arrived_by,omitempty"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy        *string    `db:"cancelled_by" json:"cancelled_by,omitempty"`
	TransferredAt      *time.Time `db:"transferred_at" json:"transferred_at,omitempty"`
	TransferredBy      *string    `db:"transferred_by" json:"transferred_by,omitempty"`
	VersionID          int        `db:"version_id" json:"version_id"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Projection is the event payload: the appointment plus joined
// patient/doctor/service summaries for external delivery.
type Projection struct {
	Appointment
	Patient *directory.Summary `json:"patient,omitempty"`
	Doctor  *directory.Summary `json:"doctor,omitempty"`
	Service *directory.Summary `json:"service,omitempty"`
}

// CreateInput carries the fields a scheduling actor supplies.
type CreateInput struct {
	PatientID    uuid.UUID `json:"patient_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	ServiceID    uuid.UUID `json:"service_id"`
	DepartmentID uuid.UUID `json:"department_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Prepayment   float64   `json:"prepayment"`
	Comment      *string   `json:"comment,omitempty"`
}

// UpdateInput carries optional mutations; nil fields are untouched.
type UpdateInput struct {
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Comment     *string    `json:"comment,omitempty"`
	Prepayment  *float64   `json:"prepayment,omitempty"`
}
