package appointment

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, service_id, department_id, scheduled_at,
	status, visit_type, prepayment_amount, final_payment_amount, comment, creator_id,
	arrived_at, arrived_by, cancelled_at, cancelled_by, transferred_at, transferred_by,
	version_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ServiceID, &a.DepartmentID, &a.ScheduledAt,
		&a.Status, &a.VisitType, &a.PrepaymentAmount, &a.FinalPaymentAmount, &a.Comment, &a.CreatorID,
		&a.ArrivedAt, &a.ArrivedBy, &a.CancelledAt, &a.CancelledBy, &a.TransferredAt, &a.TransferredBy,
		&a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

// isActiveSlotViolation detects the partial unique index on
// (doctor_id, scheduled_at) for slot-occupying statuses. It is the
// storage-level backstop that closes the conflict-check race between
// concurrent replicas.
func isActiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "appointment_active_slot_idx"
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, service_id, department_id, scheduled_at,
			status, visit_type, prepayment_amount, final_payment_amount, comment, creator_id, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.PatientID, a.DoctorID, a.ServiceID, a.DepartmentID, a.ScheduledAt,
		a.Status, a.VisitType, a.PrepaymentAmount, a.FinalPaymentAmount, a.Comment, a.CreatorID, a.VersionID)
	if isActiveSlotViolation(err) {
		return fmt.Errorf("doctor %s at %s: %w", a.DoctorID, a.ScheduledAt.Format(time.RFC3339), ErrSlotConflict)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET scheduled_at=$2, status=$3, prepayment_amount=$4, final_payment_amount=$5,
			comment=$6, arrived_at=$7, arrived_by=$8, cancelled_at=$9, cancelled_by=$10,
			transferred_at=$11, transferred_by=$12, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $13`,
		a.ID, a.ScheduledAt, a.Status, a.PrepaymentAmount, a.FinalPaymentAmount,
		a.Comment, a.ArrivedAt, a.ArrivedBy, a.CancelledAt, a.CancelledBy,
		a.TransferredAt, a.TransferredBy, a.VersionID)
	if isActiveSlotViolation(err) {
		return fmt.Errorf("doctor %s at %s: %w", a.DoctorID, a.ScheduledAt.Format(time.RFC3339), ErrSlotConflict)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Row gone or version moved under us; caller re-reads and retries.
		return fmt.Errorf("version %d stale: %w", a.VersionID, ErrNotFound)
	}
	a.VersionID++
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ""
	args := []interface{}{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += clause + "$" + strconv.Itoa(len(args))
	}

	if f.DoctorID != uuid.Nil {
		add("doctor_id = ", f.DoctorID)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = ", f.PatientID)
	}
	if f.CreatorID != "" {
		add("creator_id = ", f.CreatorID)
	}
	if !f.From.IsZero() {
		add("scheduled_at >= ", f.From)
	}
	if !f.To.IsZero() {
		add("scheduled_at < ", f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataArgs := append(args, limit, offset)
	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		` ORDER BY scheduled_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) HasActiveAt(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $1 AND scheduled_at = $2
			  AND status NOT IN ('CANCELLED', 'NO_SHOW')
			  AND id <> $3
		)`, doctorID, at, excludeID).Scan(&exists)
	return exists, err
}

func (r *repoPG) CountDoneByPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE patient_id = $1 AND status = 'DONE'`,
		patientID).Scan(&count)
	return count, err
}
