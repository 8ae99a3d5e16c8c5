package patient

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/tcmclinic/tcmclinic/internal/errs"
)

var phonePattern = regexp.MustCompile(`^1\d{10}$`)

var validSexes = map[string]bool{
	SexMale:   true,
	SexFemale: true,
	SexOther:  true,
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterInput is the data captured when a patient scans in at the clinic.
type RegisterInput struct {
	Name     string `json:"name"`
	Sex      string `json:"sex"`
	Birthday string `json:"birthday"`
	Phone    string `json:"phone"`
}

func (in *RegisterInput) validate() (*time.Time, error) {
	if !phonePattern.MatchString(in.Phone) {
		return nil, errs.Validationf("phone must be an 11-digit mobile number")
	}
	if in.Sex != "" && !validSexes[in.Sex] {
		return nil, errs.Validationf("invalid sex: %s", in.Sex)
	}
	if in.Birthday == "" {
		return nil, nil
	}
	birthday, err := time.Parse("2006-01-02", in.Birthday)
	if err != nil {
		return nil, errs.Validationf("birthday must be YYYY-MM-DD")
	}
	return &birthday, nil
}

// Register creates a patient. A duplicate phone is a conflict.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Patient, error) {
	birthday, err := in.validate()
	if err != nil {
		return nil, err
	}

	p := &Patient{
		Name:     in.Name,
		Sex:      in.Sex,
		Birthday: birthday,
		Phone:    in.Phone,
	}
	if p.Sex == "" {
		p.Sex = SexOther
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// QueryByPhone looks a patient up by phone number.
func (s *Service) QueryByPhone(ctx context.Context, phone string) (*Patient, error) {
	if !phonePattern.MatchString(phone) {
		return nil, errs.Validationf("phone must be an 11-digit mobile number")
	}
	return s.repo.GetByPhone(ctx, phone)
}

// Get returns a patient by internal id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of patients and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}
