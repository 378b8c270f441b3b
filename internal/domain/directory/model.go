package directory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a referenced patient, doctor, or service
// does not exist. Callers wrap it with the entity kind.
var ErrNotFound = errors.New("not found")

// Patient maps to the patient table.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Doctor maps to the doctor table. Doctors are the only schedulable
// staff; their user account (role=DOCTOR) shares the same id.
type Doctor struct {
	ID           uuid.UUID `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"full_name"`
	DepartmentID uuid.UUID `db:"department_id" json:"department_id"`
	Specialty    *string   `db:"specialty" json:"specialty,omitempty"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ClinicService maps to the clinic_service table: a bookable service
// with its list price.
type ClinicService struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	DepartmentID uuid.UUID `db:"department_id" json:"department_id"`
	Price        float64   `db:"price" json:"price"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Summary is the joined projection embedded in appointment events.
type Summary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
