package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/directory"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

// -- Mock repositories --

type mockRepo struct {
	items map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.VersionID = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	stored := *a
	m.items[a.ID] = &stored
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	current, ok := m.items[a.ID]
	if !ok || current.VersionID != a.VersionID {
		return fmt.Errorf("version %d stale: %w", a.VersionID, ErrNotFound)
	}
	a.VersionID++
	a.UpdatedAt = time.Now()
	stored := *a
	m.items[a.ID] = &stored
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var result []*Appointment
	for _, a := range m.items {
		if f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID {
			continue
		}
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		if f.CreatorID != "" && a.CreatorID != f.CreatorID {
			continue
		}
		copied := *a
		result = append(result, &copied)
	}
	return result, len(result), nil
}

func (m *mockRepo) HasActiveAt(_ context.Context, doctorID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error) {
	for _, a := range m.items {
		if a.ID == excludeID {
			continue
		}
		if a.DoctorID == doctorID && a.ScheduledAt.Equal(at) && a.Status.OccupiesSlot() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) CountDoneByPatient(_ context.Context, patientID uuid.UUID) (int, error) {
	count := 0
	for _, a := range m.items {
		if a.PatientID == patientID && a.Status == StatusDone {
			count++
		}
	}
	return count, nil
}

type mockPatientRepo struct{ items map[uuid.UUID]*directory.Patient }

func (m *mockPatientRepo) Create(_ context.Context, p *directory.Patient) error {
	m.items[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*directory.Patient, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("patient: %w", directory.ErrNotFound)
	}
	return p, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *directory.Patient) error { return nil }

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*directory.Patient, int, error) {
	return nil, 0, nil
}

type mockDoctorRepo struct{ items map[uuid.UUID]*directory.Doctor }

func (m *mockDoctorRepo) Create(_ context.Context, d *directory.Doctor) error {
	m.items[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*directory.Doctor, error) {
	d, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("doctor: %w", directory.ErrNotFound)
	}
	return d, nil
}

func (m *mockDoctorRepo) Update(_ context.Context, d *directory.Doctor) error { return nil }

func (m *mockDoctorRepo) ListByDepartment(_ context.Context, departmentID uuid.UUID, limit, offset int) ([]*directory.Doctor, int, error) {
	return nil, 0, nil
}

func (m *mockDoctorRepo) List(_ context.Context, limit, offset int) ([]*directory.Doctor, int, error) {
	return nil, 0, nil
}

type mockServiceRepo struct{ items map[uuid.UUID]*directory.ClinicService }

func (m *mockServiceRepo) Create(_ context.Context, s *directory.ClinicService) error {
	m.items[s.ID] = s
	return nil
}

func (m *mockServiceRepo) GetByID(_ context.Context, id uuid.UUID) (*directory.ClinicService, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("service: %w", directory.ErrNotFound)
	}
	return s, nil
}

func (m *mockServiceRepo) Update(_ context.Context, s *directory.ClinicService) error { return nil }

func (m *mockServiceRepo) List(_ context.Context, limit, offset int) ([]*directory.ClinicService, int, error) {
	return nil, 0, nil
}

// -- Fixture --

type fixture struct {
	svc       *Service
	repo      *mockRepo
	patientID uuid.UUID
	doctorID  uuid.UUID
	serviceID uuid.UUID
}

func newFixture() *fixture {
	patientID := uuid.New()
	doctorID := uuid.New()
	serviceID := uuid.New()

	patients := &mockPatientRepo{items: map[uuid.UUID]*directory.Patient{
		patientID: {ID: patientID, FullName: "Anna Petrova", Active: true},
	}}
	doctors := &mockDoctorRepo{items: map[uuid.UUID]*directory.Doctor{
		doctorID: {ID: doctorID, FullName: "Dr. Ivanov", Active: true},
	}}
	services := &mockServiceRepo{items: map[uuid.UUID]*directory.ClinicService{
		serviceID: {ID: serviceID, Name: "Consultation", Price: 3000, Active: true},
	}}

	repo := newMockRepo()
	svc := NewService(repo, patients, doctors, services, Passthrough, nil, nil, zerolog.Nop())
	return &fixture{svc: svc, repo: repo, patientID: patientID, doctorID: doctorID, serviceID: serviceID}
}

func (f *fixture) createInput(at time.Time) CreateInput {
	return CreateInput{
		PatientID:   f.patientID,
		DoctorID:    f.doctorID,
		ServiceID:   f.serviceID,
		ScheduledAt: at,
	}
}

var receptionist = auth.Identity{UserID: "user-reception", Role: auth.RoleReceptionist}

var slot = time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

// -- Create --

func TestCreate_StartsPendingPrimary(t *testing.T) {
	f := newFixture()

	a, err := f.svc.Create(context.Background(), receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", a.Status)
	}
	if a.VisitType != VisitPrimary {
		t.Errorf("expected PRIMARY, got %s", a.VisitType)
	}
	if a.CreatorID != receptionist.UserID {
		t.Errorf("expected creator %s, got %s", receptionist.UserID, a.CreatorID)
	}
}

func TestCreate_SlotConflict(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.Create(context.Background(), receptionist, f.createInput(slot)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.svc.Create(context.Background(), receptionist, f.createInput(slot))
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
}

func TestCreate_CancelledSlotIsFree(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, receptionist, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Create(ctx, receptionist, f.createInput(slot)); err != nil {
		t.Fatalf("cancelled appointment must release its slot: %v", err)
	}
}

func TestCreate_RepeatAfterDoneVisit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done := StatusDone
	if _, err := f.svc.Update(ctx, receptionist, a.ID, UpdateInput{Status: &done}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	b, err := f.svc.Create(ctx, receptionist, f.createInput(slot.Add(time.Hour)))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if b.VisitType != VisitRepeat {
		t.Errorf("expected REPEAT after a completed visit, got %s", b.VisitType)
	}

	// The first visit keeps its snapshot.
	first, err := f.svc.Get(ctx, receptionist, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.VisitType != VisitPrimary {
		t.Errorf("classification must not be recomputed, got %s", first.VisitType)
	}
}

func TestCreate_InactiveDoctor(t *testing.T) {
	f := newFixture()
	inactiveID := uuid.New()
	f.svc.doctors.(*mockDoctorRepo).items[inactiveID] = &directory.Doctor{ID: inactiveID, FullName: "Dr. Gone", Active: false}

	in := f.createInput(slot)
	in.DoctorID = inactiveID
	_, err := f.svc.Create(context.Background(), receptionist, in)
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected directory.ErrNotFound for inactive doctor, got %v", err)
	}
}

func TestCreate_UnknownPatient(t *testing.T) {
	f := newFixture()
	in := f.createInput(slot)
	in.PatientID = uuid.New()
	_, err := f.svc.Create(context.Background(), receptionist, in)
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected directory.ErrNotFound, got %v", err)
	}
}

// -- Transitions --

func TestMarkArrived(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	arrived, err := f.svc.MarkArrived(ctx, receptionist, a.ID)
	if err != nil {
		t.Fatalf("mark arrived: %v", err)
	}
	if arrived.Status != StatusArrived {
		t.Errorf("expected ARRIVED, got %s", arrived.Status)
	}
	if arrived.ArrivedAt == nil || arrived.ArrivedBy == nil || *arrived.ArrivedBy != receptionist.UserID {
		t.Error("arrival must stamp who and when")
	}
}

func TestMarkArrived_Terminal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, receptionist, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = f.svc.MarkArrived(ctx, receptionist, a.ID)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestUpdate_IllegalTransition(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.MarkArrived(ctx, receptionist, a.ID); err != nil {
		t.Fatalf("mark arrived: %v", err)
	}
	confirmed := StatusConfirmed
	_, err = f.svc.Update(ctx, receptionist, a.ID, UpdateInput{Status: &confirmed})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("ARRIVED -> CONFIRMED must fail, got %v", err)
	}
}

func TestUpdate_TerminalImmutable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done := StatusDone
	if _, err := f.svc.Update(ctx, receptionist, a.ID, UpdateInput{Status: &done}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	comment := "late note"
	_, err = f.svc.Update(ctx, receptionist, a.ID, UpdateInput{Comment: &comment})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("terminal appointment must be immutable, got %v", err)
	}
}

func TestUpdate_RescheduleConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, receptionist, f.createInput(slot)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	other := slot.Add(time.Hour)
	b, err := f.svc.Create(ctx, receptionist, f.createInput(other))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	_, err = f.svc.Update(ctx, receptionist, b.ID, UpdateInput{ScheduledAt: &slot})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict on reschedule, got %v", err)
	}
}

func TestUpdate_RescheduleToOwnSlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Same instant: the record's own slot never conflicts with itself.
	same := slot
	if _, err := f.svc.Update(ctx, receptionist, a.ID, UpdateInput{ScheduledAt: &same}); err != nil {
		t.Fatalf("rescheduling to the same slot must succeed: %v", err)
	}
}

func TestCancel_TwiceFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, receptionist, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = f.svc.Cancel(ctx, receptionist, a.ID)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("second cancel must fail, got %v", err)
	}
}

// -- Visibility --

func TestGet_DoctorScopedToOwnSchedule(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, receptionist, f.createInput(slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ownDoctor := auth.Identity{UserID: f.doctorID.String(), Role: auth.RoleDoctor}
	if _, err := f.svc.Get(ctx, ownDoctor, a.ID); err != nil {
		t.Fatalf("doctor must see own appointment: %v", err)
	}

	otherDoctor := auth.Identity{UserID: uuid.New().String(), Role: auth.RoleDoctor}
	_, err = f.svc.Get(ctx, otherDoctor, a.ID)
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another doctor, got %v", err)
	}
}

func TestList_OperatorSeesOnlyOwnCreated(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	operator := auth.Identity{UserID: "user-op-1", Role: auth.RoleOperator}
	if _, err := f.svc.Create(ctx, operator, f.createInput(slot)); err != nil {
		t.Fatalf("operator create: %v", err)
	}
	if _, err := f.svc.Create(ctx, receptionist, f.createInput(slot.Add(time.Hour))); err != nil {
		t.Fatalf("receptionist create: %v", err)
	}

	items, total, err := f.svc.List(ctx, operator, ListFilter{}, 50, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("operator must see 1 appointment, got %d", total)
	}
	if items[0].CreatorID != operator.UserID {
		t.Errorf("listed appointment created by %s, not the operator", items[0].CreatorID)
	}
}

func TestList_DoctorFilterForced(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, receptionist, f.createInput(slot)); err != nil {
		t.Fatalf("create: %v", err)
	}

	doctor := auth.Identity{UserID: f.doctorID.String(), Role: auth.RoleDoctor}
	// An explicit filter for another doctor is overridden by the scope.
	items, _, err := f.svc.List(ctx, doctor, ListFilter{DoctorID: uuid.New()}, 50, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, a := range items {
		if a.DoctorID != f.doctorID {
			t.Errorf("doctor listing leaked appointment for %s", a.DoctorID)
		}
	}
	if len(items) != 1 {
		t.Errorf("expected the doctor's own appointment, got %d items", len(items))
	}
}
