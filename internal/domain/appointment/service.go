package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/directory"
	"github.com/clinicdesk/clinicdesk/internal/platform/audit"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// TxRunner executes fn atomically. Production wiring runs a
// serializable database transaction; tests pass the call through.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Passthrough is a TxRunner without transactional guarantees.
func Passthrough(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service owns the appointment lifecycle. Every mutation goes through
// it so the state machine and the double-booking invariant are enforced
// at a single chokepoint.
type Service struct {
	repo     Repository
	patients directory.PatientRepository
	doctors  directory.DoctorRepository
	services directory.ServiceRepository
	inTx     TxRunner
	sink     events.Sink
	auditor  audit.Recorder
	logger   zerolog.Logger
}

func NewService(
	repo Repository,
	patients directory.PatientRepository,
	doctors directory.DoctorRepository,
	services directory.ServiceRepository,
	inTx TxRunner,
	sink events.Sink,
	auditor audit.Recorder,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		doctors:  doctors,
		services: services,
		inTx:     inTx,
		sink:     sink,
		auditor:  auditor,
		logger:   logger,
	}
}

// scopeCheck verifies that an own-scoped grant covers the record.
// "Own" means doctor_id for doctors and creator_id for everyone else.
func scopeCheck(ident auth.Identity, action auth.Action, a *Appointment) error {
	switch auth.ScopeFor(ident.Role, action) {
	case auth.ScopeAll:
		return nil
	case auth.ScopeOwn:
		if ident.Role == auth.RoleDoctor {
			if a.DoctorID.String() == ident.UserID {
				return nil
			}
			return fmt.Errorf("appointment %s belongs to another doctor: %w", a.ID, auth.ErrForbidden)
		}
		if a.CreatorID == ident.UserID {
			return nil
		}
		return fmt.Errorf("appointment %s was created by another user: %w", a.ID, auth.ErrForbidden)
	}
	return fmt.Errorf("role %s may not %s: %w", ident.Role, action, auth.ErrForbidden)
}

// classify snapshots the visit type at creation time: REPEAT iff the
// patient already has a completed appointment. Never recomputed.
func (s *Service) classify(ctx context.Context, patientID uuid.UUID) (VisitType, error) {
	done, err := s.repo.CountDoneByPatient(ctx, patientID)
	if err != nil {
		return "", err
	}
	if done > 0 {
		return VisitRepeat, nil
	}
	return VisitPrimary, nil
}

// Create schedules a new appointment in PENDING. The conflict check and
// the insert share one serializable transaction; the partial unique
// index in storage backstops concurrent replicas.
func (s *Service) Create(ctx context.Context, ident auth.Identity, in CreateInput) (*Appointment, error) {
	patient, err := s.patients.GetByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if !patient.Active {
		return nil, fmt.Errorf("patient %s is inactive: %w", in.PatientID, directory.ErrNotFound)
	}
	doctor, err := s.doctors.GetByID(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, fmt.Errorf("doctor %s is inactive: %w", in.DoctorID, directory.ErrNotFound)
	}
	svc, err := s.services.GetByID(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, fmt.Errorf("service %s is inactive: %w", in.ServiceID, directory.ErrNotFound)
	}
	if in.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("scheduled_at is required")
	}

	a := &Appointment{
		PatientID:        in.PatientID,
		DoctorID:         in.DoctorID,
		ServiceID:        in.ServiceID,
		DepartmentID:     in.DepartmentID,
		ScheduledAt:      in.ScheduledAt.UTC(),
		Status:           StatusPending,
		PrepaymentAmount: in.Prepayment,
		Comment:          in.Comment,
		CreatorID:        ident.UserID,
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		occupied, err := s.repo.HasActiveAt(ctx, a.DoctorID, a.ScheduledAt, uuid.Nil)
		if err != nil {
			return err
		}
		if occupied {
			return fmt.Errorf("doctor %s at %s: %w", a.DoctorID, a.ScheduledAt.Format(time.RFC3339), ErrSlotConflict)
		}
		visitType, err := s.classify(ctx, a.PatientID)
		if err != nil {
			return err
		}
		a.VisitType = visitType
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events.TypeAppointmentCreated, ident.UserID, a)
	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "create", EntityTable: "appointment",
		EntityID: a.ID.String(), NewValue: a,
	})
	return a, nil
}

// Get returns one appointment, honoring the caller's visibility scope.
func (s *Service) Get(ctx context.Context, ident auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := scopeCheck(ident, auth.ActionAppointmentView, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns appointments narrowed to the caller's visibility scope:
// doctors see their own schedule, own-scoped operators see what they
// created, everyone else with the view grant sees all records.
func (s *Service) List(ctx context.Context, ident auth.Identity, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	switch auth.ScopeFor(ident.Role, auth.ActionAppointmentView) {
	case auth.ScopeAll:
	case auth.ScopeOwn:
		if ident.Role == auth.RoleDoctor {
			doctorID, err := uuid.Parse(ident.UserID)
			if err != nil {
				return nil, 0, fmt.Errorf("doctor identity %q is not a valid id: %w", ident.UserID, auth.ErrForbidden)
			}
			f.DoctorID = doctorID
		} else {
			f.CreatorID = ident.UserID
		}
	default:
		return nil, 0, fmt.Errorf("role %s may not view appointments: %w", ident.Role, auth.ErrForbidden)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// MarkArrived moves a PENDING or CONFIRMED appointment to ARRIVED and
// stamps who marked it.
func (s *Service) MarkArrived(ctx context.Context, ident auth.Identity, id uuid.UUID) (*Appointment, error) {
	var a *Appointment
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(ident, auth.ActionAppointmentArrive, a); err != nil {
			return err
		}
		if !CanTransition(a.Status, StatusArrived) {
			return fmt.Errorf("cannot mark %s appointment as arrived: %w", a.Status, ErrInvalidStateTransition)
		}
		now := time.Now().UTC()
		a.Status = StatusArrived
		a.ArrivedAt = &now
		a.ArrivedBy = &ident.UserID
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events.TypeAppointmentArrived, ident.UserID, a)
	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "update", EntityTable: "appointment",
		EntityID: a.ID.String(), NewValue: a,
	})
	return a, nil
}

// Update applies the optional mutations in one transaction. A changed
// scheduled_at re-runs the conflict check excluding the appointment's
// own id; a status change is validated against the transition table;
// any mutation of a terminal appointment is rejected.
func (s *Service) Update(ctx context.Context, ident auth.Identity, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	var a, old *Appointment
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(ident, auth.ActionAppointmentUpdate, a); err != nil {
			return err
		}
		if a.Status.Terminal() {
			return fmt.Errorf("appointment %s is %s: %w", a.ID, a.Status, ErrInvalidStateTransition)
		}
		snapshot := *a
		old = &snapshot

		if in.Status != nil && *in.Status != a.Status {
			if !CanTransition(a.Status, *in.Status) {
				return fmt.Errorf("%s -> %s: %w", a.Status, *in.Status, ErrInvalidStateTransition)
			}
			now := time.Now().UTC()
			switch *in.Status {
			case StatusCancelled:
				a.CancelledAt = &now
				a.CancelledBy = &ident.UserID
			case StatusTransferred:
				a.TransferredAt = &now
				a.TransferredBy = &ident.UserID
			case StatusArrived:
				a.ArrivedAt = &now
				a.ArrivedBy = &ident.UserID
			}
			a.Status = *in.Status
		}

		if in.ScheduledAt != nil && !in.ScheduledAt.UTC().Equal(a.ScheduledAt) {
			at := in.ScheduledAt.UTC()
			occupied, err := s.repo.HasActiveAt(ctx, a.DoctorID, at, a.ID)
			if err != nil {
				return err
			}
			if occupied {
				return fmt.Errorf("doctor %s at %s: %w", a.DoctorID, at.Format(time.RFC3339), ErrSlotConflict)
			}
			a.ScheduledAt = at
		}

		if in.Comment != nil {
			a.Comment = in.Comment
		}
		if in.Prepayment != nil {
			a.PrepaymentAmount = *in.Prepayment
		}

		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	eventType := events.TypeAppointmentUpdated
	if a.Status == StatusCancelled && old.Status != StatusCancelled {
		eventType = events.TypeAppointmentCancelled
	} else if a.Status == StatusArrived && old.Status != StatusArrived {
		eventType = events.TypeAppointmentArrived
	}
	s.emit(ctx, eventType, ident.UserID, a)
	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "update", EntityTable: "appointment",
		EntityID: a.ID.String(), OldValue: old, NewValue: a,
	})
	return a, nil
}

// Cancel is the soft delete: status moves to CANCELLED and the slot is
// released. Fails on terminal appointments.
func (s *Service) Cancel(ctx context.Context, ident auth.Identity, id uuid.UUID) (*Appointment, error) {
	var a, old *Appointment
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(ident, auth.ActionAppointmentCancel, a); err != nil {
			return err
		}
		if !CanTransition(a.Status, StatusCancelled) {
			return fmt.Errorf("appointment %s is %s: %w", a.ID, a.Status, ErrInvalidStateTransition)
		}
		snapshot := *a
		old = &snapshot
		now := time.Now().UTC()
		a.Status = StatusCancelled
		a.CancelledAt = &now
		a.CancelledBy = &ident.UserID
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events.TypeAppointmentCancelled, ident.UserID, a)
	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "cancel", EntityTable: "appointment",
		EntityID: a.ID.String(), OldValue: old, NewValue: a,
	})
	return a, nil
}

// emit publishes the full projection to the event sink, best-effort.
func (s *Service) emit(ctx context.Context, eventType, actorID string, a *Appointment) {
	proj := Projection{Appointment: *a}
	if p, err := s.patients.GetByID(ctx, a.PatientID); err == nil {
		proj.Patient = &directory.Summary{ID: p.ID, Name: p.FullName}
	}
	if d, err := s.doctors.GetByID(ctx, a.DoctorID); err == nil {
		proj.Doctor = &directory.Summary{ID: d.ID, Name: d.FullName}
	}
	if cs, err := s.services.GetByID(ctx, a.ServiceID); err == nil {
		proj.Service = &directory.Summary{ID: cs.ID, Name: cs.Name}
	}
	ev := events.Event{
		Type:     eventType,
		Topic:    "appointments",
		EntityID: a.ID.String(),
		ActorID:  actorID,
		Data:     proj,
	}
	events.Emit(s.logger, s.sink, ev)

	// Doctors subscribe to their own schedule topic.
	ev.Topic = "appointments.doctor." + a.DoctorID.String()
	events.Emit(s.logger, s.sink, ev)
}
