package billing

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPaymentExists is returned when an appointment already has a
	// payment. One payment per appointment, full stop.
	ErrPaymentExists = errors.New("payment already exists for appointment")
	// ErrAlreadyProcessed is returned when a refund is decided twice.
	ErrAlreadyProcessed = errors.New("refund already processed")
	// ErrNotFound is returned when a payment, accrual, refund, or scheme
	// does not exist. Callers wrap it with the entity kind.
	ErrNotFound = errors.New("billing record not found")
)

// roundCents rounds a monetary value to 2 decimal places, half-up.
func roundCents(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// Payment maps to the payment table: the money received for one
// appointment. Immutable once created.
type Payment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	Amount        float64   `db:"amount" json:"amount"`
	Cash          float64   `db:"cash" json:"cash"`
	Cashless      float64   `db:"cashless" json:"cashless"`
	Change        float64   `db:"change" json:"change"`
	Method        string    `db:"method" json:"method"`
	ReceivedBy    string    `db:"received_by" json:"received_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// AccrualStatus tracks whether a refund has touched the accrual.
type AccrualStatus string

const (
	AccrualPending  AccrualStatus = "PENDING"
	AccrualAdjusted AccrualStatus = "ADJUSTED"
)

// SalaryAccrual maps to the salary_accrual table: the doctor's earned
// share of one payment. PercentApplied is frozen at capture time;
// later scheme changes never touch existing accruals.
type SalaryAccrual struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	DoctorID       uuid.UUID     `db:"doctor_id" json:"doctor_id"`
	PaymentID      uuid.UUID     `db:"payment_id" json:"payment_id"`
	GrossAmount    float64       `db:"gross_amount" json:"gross_amount"`
	PercentApplied float64       `db:"percent_applied" json:"percent_applied"`
	NetAmount      float64       `db:"net_amount" json:"net_amount"`
	PeriodMonth    int           `db:"period_month" json:"period_month"`
	PeriodYear     int           `db:"period_year" json:"period_year"`
	Status         AccrualStatus `db:"status" json:"status"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// RefundStatus is the refund decision state. Exactly one outcome
// transition is permitted from PENDING.
type RefundStatus string

const (
	RefundPending  RefundStatus = "PENDING"
	RefundApproved RefundStatus = "APPROVED"
	RefundRejected RefundStatus = "REJECTED"
)

// Refund maps to the refund table: a request to reverse part or all of
// a payment.
type Refund struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	PaymentID   uuid.UUID    `db:"payment_id" json:"payment_id"`
	Amount      float64      `db:"amount" json:"amount"`
	Reason      *string      `db:"reason" json:"reason,omitempty"`
	RequestedBy string       `db:"requested_by" json:"requested_by"`
	Status      RefundStatus `db:"status" json:"status"`
	ApprovedBy  *string      `db:"approved_by" json:"approved_by,omitempty"`
	CompletedAt *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// SalaryScheme maps to the salary_scheme table: the percentage table
// for one doctor. The newest scheme by effective_from wins; the engine
// reads it, never writes it.
type SalaryScheme struct {
	ID               uuid.UUID `db:"id" json:"id"`
	DoctorID         uuid.UUID `db:"doctor_id" json:"doctor_id"`
	PrimaryPercent   float64   `db:"primary_percent" json:"primary_percent"`
	RepeatPercent    float64   `db:"repeat_percent" json:"repeat_percent"`
	OperationPercent float64   `db:"operation_percent" json:"operation_percent"`
	EffectiveFrom    time.Time `db:"effective_from" json:"effective_from"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// CaptureInput carries the fields the receptionist supplies when taking
// payment for an appointment.
type CaptureInput struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Amount        float64   `json:"amount"`
	Cash          float64   `json:"cash"`
	Cashless      float64   `json:"cashless"`
	Change        float64   `json:"change"`
	Method        string    `json:"method"`
}

// RefundInput carries a refund request.
type RefundInput struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Amount    float64   `json:"amount"`
	Reason    *string   `json:"reason,omitempty"`
}

// CaptureResult bundles the payment with the accrual it produced, if
// the doctor has an active scheme.
type CaptureResult struct {
	Payment *Payment       `json:"payment"`
	Accrual *SalaryAccrual `json:"accrual,omitempty"`
}
