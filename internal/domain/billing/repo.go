package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PaymentRepository interface {
	// Create persists a payment; a second payment for the same
	// appointment fails with ErrPaymentExists (unique constraint).
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
}

type AccrualRepository interface {
	Create(ctx context.Context, a *SalaryAccrual) error
	GetByPayment(ctx context.Context, paymentID uuid.UUID) (*SalaryAccrual, error)
	Update(ctx context.Context, a *SalaryAccrual) error
	// ListByDoctor returns a doctor's accruals for one payroll period.
	// Zero month/year means all periods.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, month, year, limit, offset int) ([]*SalaryAccrual, int, error)
}

type RefundRepository interface {
	Create(ctx context.Context, r *Refund) error
	GetByID(ctx context.Context, id uuid.UUID) (*Refund, error)
	Update(ctx context.Context, r *Refund) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error)
}

type SchemeRepository interface {
	Create(ctx context.Context, s *SalaryScheme) error
	// ActiveForDoctor returns the doctor's scheme with the newest
	// effective_from not after at, or ErrNotFound when the doctor has
	// no percentage-based compensation.
	ActiveForDoctor(ctx context.Context, doctorID uuid.UUID, at time.Time) (*SalaryScheme, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*SalaryScheme, error)
}
