package doctor

import (
	"context"

	"github.com/google/uuid"

	"github.com/tcmclinic/tcmclinic/internal/errs"
	"github.com/tcmclinic/tcmclinic/internal/platform/auth"
)

type Service struct {
	repo   Repository
	tokens *auth.TokenManager
}

func NewService(repo Repository, tokens *auth.TokenManager) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// RegisterInput holds the fields for doctor account creation.
type RegisterInput struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Department string `json:"department"`
}

// Register creates a doctor account with a hashed password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Doctor, error) {
	if in.Username == "" {
		return nil, errs.Validationf("username is required")
	}
	if in.Name == "" {
		return nil, errs.Validationf("name is required")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, errs.Validationf("%v", err)
	}

	d := &Doctor{
		Username:     in.Username,
		PasswordHash: hash,
		Name:         in.Name,
		Title:        in.Title,
		Department:   in.Department,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Login checks credentials and returns the doctor plus a signed token.
// Unknown usernames and wrong passwords produce the same error so the
// endpoint does not leak which usernames exist.
func (s *Service) Login(ctx context.Context, username, password string) (*Doctor, string, error) {
	d, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, "", errs.Validationf("invalid username or password")
	}
	if !auth.CheckPassword(d.PasswordHash, password) {
		return nil, "", errs.Validationf("invalid username or password")
	}

	token, err := s.tokens.Issue(d.ID, d.Username)
	if err != nil {
		return nil, "", err
	}
	return d, token, nil
}

// Get returns a doctor by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateProfileInput holds the mutable profile fields.
type UpdateProfileInput struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	Department string `json:"department"`
}

// UpdateProfile updates the doctor's display fields.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in UpdateProfileInput) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		d.Name = in.Name
	}
	d.Title = in.Title
	d.Department = in.Department
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ChangePassword verifies the old password and stores a hash of the new one.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(d.PasswordHash, oldPassword) {
		return errs.Validationf("old password is incorrect")
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return errs.Validationf("%v", err)
	}
	d.PasswordHash = hash
	return s.repo.Update(ctx, d)
}
