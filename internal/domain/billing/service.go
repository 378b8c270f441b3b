package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/appointment"
	"github.com/clinicdesk/clinicdesk/internal/platform/audit"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// AppointmentSource is the slice of the appointment repository billing
// needs: reading the appointment being paid for and recording the
// final payment amount on it.
type AppointmentSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Update(ctx context.Context, a *appointment.Appointment) error
}

// Service owns payments, accruals, refunds, and schemes. Capture and
// refund approval are the two read-then-write units; each runs in one
// serializable transaction.
type Service struct {
	payments     PaymentRepository
	accruals     AccrualRepository
	refunds      RefundRepository
	schemes      SchemeRepository
	appointments AppointmentSource
	inTx         appointment.TxRunner
	sink         events.Sink
	auditor      audit.Recorder
	logger       zerolog.Logger
}

func NewService(
	payments PaymentRepository,
	accruals AccrualRepository,
	refunds RefundRepository,
	schemes SchemeRepository,
	appointments AppointmentSource,
	inTx appointment.TxRunner,
	sink events.Sink,
	auditor audit.Recorder,
	logger zerolog.Logger,
) *Service {
	return &Service{
		payments:     payments,
		accruals:     accruals,
		refunds:      refunds,
		schemes:      schemes,
		appointments: appointments,
		inTx:         inTx,
		sink:         sink,
		auditor:      auditor,
		logger:       logger,
	}
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// percentFor selects the scheme percentage for a visit type. The
// operation percent is reserved for a service category the scheduler
// does not model yet.
func percentFor(scheme *SalaryScheme, visitType appointment.VisitType) float64 {
	if visitType == appointment.VisitRepeat {
		return scheme.RepeatPercent
	}
	return scheme.PrimaryPercent
}

// CapturePayment records the money received for an appointment and the
// doctor's accrual in one transaction. A doctor without an active
// scheme gets no accrual; the payment still lands.
func (s *Service) CapturePayment(ctx context.Context, ident auth.Identity, in CaptureInput) (*CaptureResult, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	result := &CaptureResult{}
	err := s.inTx(ctx, func(ctx context.Context) error {
		appt, err := s.appointments.GetByID(ctx, in.AppointmentID)
		if err != nil {
			return err
		}
		if _, err := s.payments.GetByAppointment(ctx, in.AppointmentID); err == nil {
			return fmt.Errorf("appointment %s: %w", in.AppointmentID, ErrPaymentExists)
		} else if !isNotFound(err) {
			return err
		}

		p := &Payment{
			AppointmentID: in.AppointmentID,
			Amount:        in.Amount,
			Cash:          in.Cash,
			Cashless:      in.Cashless,
			Change:        in.Change,
			Method:        in.Method,
			ReceivedBy:    ident.UserID,
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}
		result.Payment = p

		appt.FinalPaymentAmount = in.Amount
		if err := s.appointments.Update(ctx, appt); err != nil {
			return err
		}

		now := time.Now().UTC()
		scheme, err := s.schemes.ActiveForDoctor(ctx, appt.DoctorID, now)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		percent := percentFor(scheme, appt.VisitType)
		accrual := &SalaryAccrual{
			DoctorID:       appt.DoctorID,
			PaymentID:      p.ID,
			GrossAmount:    in.Amount,
			PercentApplied: percent,
			NetAmount:      roundCents(in.Amount * percent / 100),
			PeriodMonth:    int(now.Month()),
			PeriodYear:     now.Year(),
			Status:         AccrualPending,
		}
		if err := s.accruals.Create(ctx, accrual); err != nil {
			return err
		}
		result.Accrual = accrual
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Emit(s.logger, s.sink, events.Event{
		Type:     events.TypePaymentCaptured,
		Topic:    "billing",
		EntityID: result.Payment.ID.String(),
		ActorID:  ident.UserID,
		Data:     result,
	})
	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "payment", EntityTable: "payment",
		EntityID: result.Payment.ID.String(), NewValue: result,
	})
	return result, nil
}

// RequestRefund opens a PENDING refund against an existing payment.
func (s *Service) RequestRefund(ctx context.Context, ident auth.Identity, in RefundInput) (*Refund, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if _, err := s.payments.GetByID(ctx, in.PaymentID); err != nil {
		return nil, err
	}

	r := &Refund{
		PaymentID:   in.PaymentID,
		Amount:      in.Amount,
		Reason:      in.Reason,
		RequestedBy: ident.UserID,
		Status:      RefundPending,
	}
	if err := s.refunds.Create(ctx, r); err != nil {
		return nil, err
	}

	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "refund", EntityTable: "refund",
		EntityID: r.ID.String(), NewValue: r,
	})
	return r, nil
}

// ApproveRefund resolves a PENDING refund and adjusts the accrual the
// payment produced. The deduction uses the frozen percent from capture
// time; net amount may go negative when cumulative refunds exceed the
// payment, kept as a bookkeeping signal.
func (s *Service) ApproveRefund(ctx context.Context, ident auth.Identity, refundID uuid.UUID) (*Refund, error) {
	var r *Refund
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.refunds.GetByID(ctx, refundID)
		if err != nil {
			return err
		}
		if r.Status != RefundPending {
			return fmt.Errorf("refund %s is %s: %w", r.ID, r.Status, ErrAlreadyProcessed)
		}

		now := time.Now().UTC()
		r.Status = RefundApproved
		r.ApprovedBy = &ident.UserID
		r.CompletedAt = &now
		if err := s.refunds.Update(ctx, r); err != nil {
			return err
		}

		accrual, err := s.accruals.GetByPayment(ctx, r.PaymentID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		deduction := roundCents(r.Amount * accrual.PercentApplied / 100)
		accrual.NetAmount = roundCents(accrual.NetAmount - deduction)
		accrual.Status = AccrualAdjusted
		return s.accruals.Update(ctx, accrual)
	})
	if err != nil {
		return nil, err
	}

	s.notifyRefund(ident.UserID, r)
	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "refund", EntityTable: "refund",
		EntityID: r.ID.String(), NewValue: r,
	})
	return r, nil
}

// RejectRefund resolves a PENDING refund with no accrual side effect.
func (s *Service) RejectRefund(ctx context.Context, ident auth.Identity, refundID uuid.UUID) (*Refund, error) {
	var r *Refund
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.refunds.GetByID(ctx, refundID)
		if err != nil {
			return err
		}
		if r.Status != RefundPending {
			return fmt.Errorf("refund %s is %s: %w", r.ID, r.Status, ErrAlreadyProcessed)
		}
		now := time.Now().UTC()
		r.Status = RefundRejected
		r.ApprovedBy = &ident.UserID
		r.CompletedAt = &now
		return s.refunds.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	s.notifyRefund(ident.UserID, r)
	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "refund", EntityTable: "refund",
		EntityID: r.ID.String(), NewValue: r,
	})
	return r, nil
}

// notifyRefund tells the original requester how their request ended.
func (s *Service) notifyRefund(actorID string, r *Refund) {
	events.Emit(s.logger, s.sink, events.Event{
		Type:     events.TypeRefundDecided,
		Topic:    "billing.user." + r.RequestedBy,
		EntityID: r.ID.String(),
		ActorID:  actorID,
		Data:     r,
	})
}

// ListAccruals returns a doctor's accruals for a payroll period.
// Doctors with the own-scoped grant are pinned to their own id.
func (s *Service) ListAccruals(ctx context.Context, ident auth.Identity, doctorID uuid.UUID, month, year, limit, offset int) ([]*SalaryAccrual, int, error) {
	switch auth.ScopeFor(ident.Role, auth.ActionAccrualView) {
	case auth.ScopeAll:
	case auth.ScopeOwn:
		own, err := uuid.Parse(ident.UserID)
		if err != nil {
			return nil, 0, fmt.Errorf("doctor identity %q is not a valid id: %w", ident.UserID, auth.ErrForbidden)
		}
		doctorID = own
	default:
		return nil, 0, fmt.Errorf("role %s may not view accruals: %w", ident.Role, auth.ErrForbidden)
	}
	if doctorID == uuid.Nil {
		return nil, 0, fmt.Errorf("doctor_id is required")
	}
	return s.accruals.ListByDoctor(ctx, doctorID, month, year, limit, offset)
}

// CreateScheme registers a new percentage scheme for a doctor. The
// newest effective_from wins at capture time; existing accruals keep
// their frozen percent.
func (s *Service) CreateScheme(ctx context.Context, ident auth.Identity, scheme *SalaryScheme) error {
	for _, pct := range []float64{scheme.PrimaryPercent, scheme.RepeatPercent, scheme.OperationPercent} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("percent %v out of range 0..100", pct)
		}
	}
	if scheme.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if scheme.EffectiveFrom.IsZero() {
		scheme.EffectiveFrom = time.Now().UTC()
	}
	if err := s.schemes.Create(ctx, scheme); err != nil {
		return err
	}
	audit.Record(s.logger, s.auditor, audit.Entry{
		ActorID: ident.UserID, Action: "create", EntityTable: "salary_scheme",
		EntityID: scheme.ID.String(), NewValue: scheme,
	})
	return nil
}

// ListSchemes returns a doctor's scheme history, newest first.
func (s *Service) ListSchemes(ctx context.Context, doctorID uuid.UUID) ([]*SalaryScheme, error) {
	return s.schemes.ListByDoctor(ctx, doctorID)
}

// GetPayment returns one payment with its refund history.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, []*Refund, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	refunds, err := s.refunds.ListByPayment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return p, refunds, nil
}
