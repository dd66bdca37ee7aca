package auth

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/ports"
)

var _ ports.ProfileRepository = (*MemoryProfileRepository)(nil)

// MemoryProfileRepository keeps profiles in a map. Errors mirror the
// AppError codes returned by the Postgres repository.
type MemoryProfileRepository struct {
	mu       sync.Mutex
	profiles map[string]domainauth.Profile

	// Now stamps created_at, updated_at and login times when set.
	Now func() time.Time
	// GetErr, when set, is returned by every GetByID call.
	GetErr error
}

// NewMemoryProfileRepository creates an empty repository.
func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{profiles: make(map[string]domainauth.Profile)}
}

func (m *MemoryProfileRepository) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Put stores p as is, replacing any existing row.
func (m *MemoryProfileRepository) Put(p domainauth.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryProfileRepository) GetByID(_ context.Context, id string) (*domainauth.Profile, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(id)
}

func (m *MemoryProfileRepository) Create(_ context.Context, in domainauth.NewProfile) (*domainauth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[in.ID]; ok {
		return nil, &apperrors.AppError{Code: apperrors.ErrCodeConflict, Message: "A profile already exists for this account.", Field: "id"}
	}
	now := m.now()
	p := domainauth.Profile{
		ID:            in.ID,
		Email:         in.Email,
		Role:          in.Role,
		IsActive:      in.IsActive,
		EmailVerified: in.EmailVerified,
		FullName:      in.FullName,
		Company:       in.Company,
		Department:    in.Department,
		JobTitle:      in.JobTitle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.profiles[p.ID] = p
	return &p, nil
}

func (m *MemoryProfileRepository) Update(_ context.Context, id string, upd domainauth.ProfileUpdate) (*domainauth.Profile, error) {
	return m.mutate(id, func(p *domainauth.Profile) {
		setString(&p.FullName, upd.FullName)
		setString(&p.Company, upd.Company)
		setString(&p.Department, upd.Department)
		setString(&p.JobTitle, upd.JobTitle)
	})
}

func (m *MemoryProfileRepository) UpdateAccess(_ context.Context, id string, upd domainauth.AdminProfileUpdate) (*domainauth.Profile, error) {
	return m.mutate(id, func(p *domainauth.Profile) {
		if upd.Role != nil {
			p.Role = *upd.Role
		}
		if upd.IsActive != nil {
			p.IsActive = *upd.IsActive
		}
		if upd.EmailVerified != nil {
			p.EmailVerified = *upd.EmailVerified
		}
	})
}

func (m *MemoryProfileRepository) RecordLogin(_ context.Context, id string, at time.Time) (*domainauth.Profile, error) {
	return m.mutate(id, func(p *domainauth.Profile) {
		at := at.UTC()
		p.LastLoginAt = &at
		p.LoginCount++
	})
}

func (m *MemoryProfileRepository) MarkPasswordChanged(_ context.Context, id string, at time.Time) error {
	_, err := m.mutate(id, func(p *domainauth.Profile) {
		at := at.UTC()
		p.PasswordChangedAt = &at
	})
	return err
}

func (m *MemoryProfileRepository) List(_ context.Context, opts ports.ProfileListOptions) ([]*domainauth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domainauth.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if opts.Role != nil && p.Role != *opts.Role {
			continue
		}
		if opts.Active != nil && p.IsActive != *opts.Active {
			continue
		}
		p := p
		out = append(out, &p)
	}
	slices.SortFunc(out, func(a, b *domainauth.Profile) int { return cmp.Compare(a.Email, b.Email) })
	if opts.Offset > 0 {
		out = out[min(opts.Offset, len(out)):]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryProfileRepository) mutate(id string, fn func(*domainauth.Profile)) (*domainauth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	fn(p)
	p.UpdatedAt = m.now()
	m.profiles[id] = *p
	return p, nil
}

func (m *MemoryProfileRepository) lookupLocked(id string) (*domainauth.Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, apperrors.NotFound("Profile not found")
	}
	return &p, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
