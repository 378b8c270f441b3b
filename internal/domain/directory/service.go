package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
	services ServiceRepository
}

func NewService(patients PatientRepository, doctors DoctorRepository, services ServiceRepository) *Service {
	return &Service{patients: patients, doctors: doctors, services: services}
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if p.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if d.DepartmentID == uuid.Nil {
		return fmt.Errorf("department_id is required")
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	return s.doctors.Update(ctx, d)
}

func (s *Service) ListDoctors(ctx context.Context, departmentID uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	if departmentID != uuid.Nil {
		return s.doctors.ListByDepartment(ctx, departmentID, limit, offset)
	}
	return s.doctors.List(ctx, limit, offset)
}

// -- ClinicService --

func (s *Service) CreateClinicService(ctx context.Context, cs *ClinicService) error {
	if cs.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cs.Price < 0 {
		return fmt.Errorf("price must not be negative")
	}
	return s.services.Create(ctx, cs)
}

func (s *Service) GetClinicService(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	return s.services.GetByID(ctx, id)
}

func (s *Service) UpdateClinicService(ctx context.Context, cs *ClinicService) error {
	if cs.Price < 0 {
		return fmt.Errorf("price must not be negative")
	}
	return s.services.Update(ctx, cs)
}

func (s *Service) ListClinicServices(ctx context.Context, limit, offset int) ([]*ClinicService, int, error) {
	return s.services.List(ctx, limit, offset)
}
