package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tcmclinic/tcmclinic/internal/errs"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	byID    map[uuid.UUID]*Patient
	byPhone map[string]*Patient
}

func newMemRepo() *memRepo {
	return &memRepo{
		byID:    make(map[uuid.UUID]*Patient),
		byPhone: make(map[string]*Patient),
	}
}

func (m *memRepo) Create(_ context.Context, p *Patient) error {
	if _, ok := m.byPhone[p.Phone]; ok {
		return errs.Conflictf("patient with phone %s already exists", p.Phone)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.byID[p.ID] = p
	m.byPhone[p.Phone] = p
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, errs.NotFoundf("patient not found")
	}
	return p, nil
}

func (m *memRepo) GetByPhone(_ context.Context, phone string) (*Patient, error) {
	p, ok := m.byPhone[phone]
	if !ok {
		return nil, errs.NotFoundf("patient not found")
	}
	return p, nil
}

func (m *memRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out, len(out), nil
}

func TestRegister_Success(t *testing.T) {
	svc := NewService(newMemRepo())
	p, err := svc.Register(context.Background(), RegisterInput{
		Name:     "张三",
		Sex:      SexMale,
		Birthday: "1985-01-01",
		Phone:    "13800138000",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if p.Birthday == nil || p.Birthday.Year() != 1985 {
		t.Errorf("unexpected birthday: %v", p.Birthday)
	}
}

func TestRegister_InvalidPhone(t *testing.T) {
	svc := NewService(newMemRepo())
	cases := []string{"", "12345", "abcdefghijk", "23800138000"}
	for _, phone := range cases {
		_, err := svc.Register(context.Background(), RegisterInput{Phone: phone})
		if !errors.Is(err, errs.ErrValidation) {
			t.Errorf("phone %q: expected ErrValidation, got %v", phone, err)
		}
	}
}

func TestRegister_DuplicatePhone(t *testing.T) {
	svc := NewService(newMemRepo())
	in := RegisterInput{Name: "张三", Phone: "13800138000"}
	if _, err := svc.Register(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Register(context.Background(), in)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestQueryByPhone_NotFound(t *testing.T) {
	svc := NewService(newMemRepo())
	_, err := svc.QueryByPhone(context.Background(), "13800138999")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAge(t *testing.T) {
	birthday := mustDate(t, "1990-06-15")
	p := &Patient{Birthday: &birthday}

	if got := p.Age(mustDate(t, "2020-06-14")); got != 29 {
		t.Errorf("expected 29 before anniversary, got %d", got)
	}
	if got := p.Age(mustDate(t, "2020-06-15")); got != 30 {
		t.Errorf("expected 30 on anniversary, got %d", got)
	}

	unknown := &Patient{}
	if got := unknown.Age(mustDate(t, "2020-06-15")); got != -1 {
		t.Errorf("expected -1 for unknown birthday, got %d", got)
	}
}
