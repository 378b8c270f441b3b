package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// -- Payments --

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

const paymentCols = `id, appointment_id, amount, cash, cashless, change, method, received_by, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.AppointmentID, &p.Amount, &p.Cash, &p.Cashless, &p.Change,
		&p.Method, &p.ReceivedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment: %w", ErrNotFound)
	}
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payment (id, appointment_id, amount, cash, cashless, change, method, received_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.AppointmentID, p.Amount, p.Cash, p.Cashless, p.Change, p.Method, p.ReceivedBy)
	if isUniqueViolation(err, "payment_appointment_id_key") {
		return fmt.Errorf("appointment %s: %w", p.AppointmentID, ErrPaymentExists)
	}
	return err
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE id = $1`, id))
}

func (r *paymentRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	return scanPayment(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE appointment_id = $1`, appointmentID))
}

// -- Accruals --

type accrualRepoPG struct{ pool *pgxpool.Pool }

func NewAccrualRepoPG(pool *pgxpool.Pool) AccrualRepository { return &accrualRepoPG{pool: pool} }

const accrualCols = `id, doctor_id, payment_id, gross_amount, percent_applied, net_amount,
	period_month, period_year, status, created_at, updated_at`

func scanAccrual(row pgx.Row) (*SalaryAccrual, error) {
	var a SalaryAccrual
	err := row.Scan(&a.ID, &a.DoctorID, &a.PaymentID, &a.GrossAmount, &a.PercentApplied, &a.NetAmount,
		&a.PeriodMonth, &a.PeriodYear, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("accrual: %w", ErrNotFound)
	}
	return &a, err
}

func (r *accrualRepoPG) Create(ctx context.Context, a *SalaryAccrual) error {
	a.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO salary_accrual (id, doctor_id, payment_id, gross_amount, percent_applied, net_amount,
			period_month, period_year, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.DoctorID, a.PaymentID, a.GrossAmount, a.PercentApplied, a.NetAmount,
		a.PeriodMonth, a.PeriodYear, a.Status)
	return err
}

func (r *accrualRepoPG) GetByPayment(ctx context.Context, paymentID uuid.UUID) (*SalaryAccrual, error) {
	return scanAccrual(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+accrualCols+` FROM salary_accrual WHERE payment_id = $1`, paymentID))
}

func (r *accrualRepoPG) Update(ctx context.Context, a *SalaryAccrual) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE salary_accrual SET net_amount = $2, status = $3, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.NetAmount, a.Status)
	return err
}

func (r *accrualRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, month, year, limit, offset int) ([]*SalaryAccrual, int, error) {
	where := ` WHERE doctor_id = $1`
	args := []interface{}{doctorID}
	if month != 0 {
		args = append(args, month)
		where += ` AND period_month = $` + strconv.Itoa(len(args))
	}
	if year != 0 {
		args = append(args, year)
		where += ` AND period_year = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM salary_accrual`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataArgs := append(args, limit, offset)
	query := `SELECT ` + accrualCols + ` FROM salary_accrual` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	rows, err := conn(ctx, r.pool).Query(ctx, query, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*SalaryAccrual
	for rows.Next() {
		a, err := scanAccrual(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// -- Refunds --

type refundRepoPG struct{ pool *pgxpool.Pool }

func NewRefundRepoPG(pool *pgxpool.Pool) RefundRepository { return &refundRepoPG{pool: pool} }

const refundCols = `id, payment_id, amount, reason, requested_by, status, approved_by, completed_at, created_at`

func scanRefund(row pgx.Row) (*Refund, error) {
	var r Refund
	err := row.Scan(&r.ID, &r.PaymentID, &r.Amount, &r.Reason, &r.RequestedBy,
		&r.Status, &r.ApprovedBy, &r.CompletedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("refund: %w", ErrNotFound)
	}
	return &r, err
}

func (r *refundRepoPG) Create(ctx context.Context, ref *Refund) error {
	ref.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO refund (id, payment_id, amount, reason, requested_by, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		ref.ID, ref.PaymentID, ref.Amount, ref.Reason, ref.RequestedBy, ref.Status)
	return err
}

func (r *refundRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Refund, error) {
	return scanRefund(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+refundCols+` FROM refund WHERE id = $1`, id))
}

func (r *refundRepoPG) Update(ctx context.Context, ref *Refund) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refund SET status = $2, approved_by = $3, completed_at = $4
		WHERE id = $1`,
		ref.ID, ref.Status, ref.ApprovedBy, ref.CompletedAt)
	return err
}

func (r *refundRepoPG) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+refundCols+` FROM refund WHERE payment_id = $1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Refund
	for rows.Next() {
		ref, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ref)
	}
	return items, rows.Err()
}

// -- Schemes --

type schemeRepoPG struct{ pool *pgxpool.Pool }

func NewSchemeRepoPG(pool *pgxpool.Pool) SchemeRepository { return &schemeRepoPG{pool: pool} }

const schemeCols = `id, doctor_id, primary_percent, repeat_percent, operation_percent, effective_from, created_at`

func scanScheme(row pgx.Row) (*SalaryScheme, error) {
	var s SalaryScheme
	err := row.Scan(&s.ID, &s.DoctorID, &s.PrimaryPercent, &s.RepeatPercent, &s.OperationPercent,
		&s.EffectiveFrom, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheme: %w", ErrNotFound)
	}
	return &s, err
}

func (r *schemeRepoPG) Create(ctx context.Context, s *SalaryScheme) error {
	s.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO salary_scheme (id, doctor_id, primary_percent, repeat_percent, operation_percent, effective_from)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.DoctorID, s.PrimaryPercent, s.RepeatPercent, s.OperationPercent, s.EffectiveFrom)
	return err
}

func (r *schemeRepoPG) ActiveForDoctor(ctx context.Context, doctorID uuid.UUID, at time.Time) (*SalaryScheme, error) {
	return scanScheme(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+schemeCols+` FROM salary_scheme
		WHERE doctor_id = $1 AND effective_from <= $2
		ORDER BY effective_from DESC LIMIT 1`, doctorID, at))
}

func (r *schemeRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*SalaryScheme, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+schemeCols+` FROM salary_scheme WHERE doctor_id = $1 ORDER BY effective_from DESC`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SalaryScheme
	for rows.Next() {
		s, err := scanScheme(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
