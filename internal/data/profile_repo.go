package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/northwind-consulting/portal/internal/data/pgxutil"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/ports"
)

const profileColumns = `id, email, role, is_active, email_verified, full_name, company, department,
	job_title, last_login_at, login_count, password_changed_at, created_at, updated_at`

const (
	defaultProfileListLimit = 50
	maxProfileListLimit     = 500
)

// ProfileRepo provides database operations for profiles.
type ProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewProfileRepo creates a new ProfileRepo with real time provider.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewProfileRepoWithTimeProvider creates a new ProfileRepo with a custom time provider (useful for tests).
func NewProfileRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: tp}
}

var _ ports.ProfileRepository = (*ProfileRepo)(nil)

// GetByID retrieves a profile by the identity backend's user id.
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*domainauth.Profile, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.ValidationField("id", "profile id is required")
	}
	p, err := pgxutil.QueryOne[domainauth.Profile](ctx, r.DB,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	if err != nil {
		return nil, r.mapErr(err, "get profile")
	}
	return &p, nil
}

// Create inserts a new profile row.
func (r *ProfileRepo) Create(ctx context.Context, in domainauth.NewProfile) (*domainauth.Profile, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, apperrors.ValidationField("id", "profile id is required")
	}
	role := in.Role
	if role == "" {
		role = domainauth.RoleUser
	}
	if !role.Valid() {
		return nil, apperrors.ValidationField("role", "unknown role")
	}

	now := r.timeProvider.Now().UTC()
	p, err := pgxutil.QueryOne[domainauth.Profile](ctx, r.DB, `
		INSERT INTO profiles (
			id, email, role, is_active, email_verified, full_name, company, department, job_title, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+profileColumns,
		in.ID,
		strings.ToLower(strings.TrimSpace(in.Email)),
		role,
		in.IsActive,
		in.EmailVerified,
		strings.TrimSpace(in.FullName),
		strings.TrimSpace(in.Company),
		strings.TrimSpace(in.Department),
		strings.TrimSpace(in.JobTitle),
		now,
	)
	if err != nil {
		return nil, r.mapErr(err, "create profile")
	}
	return &p, nil
}

// Update applies a self-service partial update. An empty update returns the current row.
func (r *ProfileRepo) Update(
	ctx context.Context,
	id string,
	upd domainauth.ProfileUpdate,
) (*domainauth.Profile, error) {
	var sb setBuilder
	sb.addString("full_name", upd.FullName)
	sb.addString("company", upd.Company)
	sb.addString("department", upd.Department)
	sb.addString("job_title", upd.JobTitle)
	return r.applyUpdate(ctx, id, &sb)
}

// UpdateAccess changes role, is_active or email_verified.
func (r *ProfileRepo) UpdateAccess(
	ctx context.Context,
	id string,
	upd domainauth.AdminProfileUpdate,
) (*domainauth.Profile, error) {
	var sb setBuilder
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, apperrors.ValidationField("role", "unknown role")
		}
		sb.add("role", *upd.Role)
	}
	if upd.IsActive != nil {
		sb.add("is_active", *upd.IsActive)
	}
	if upd.EmailVerified != nil {
		sb.add("email_verified", *upd.EmailVerified)
	}
	return r.applyUpdate(ctx, id, &sb)
}

// RecordLogin stamps last_login_at and increments login_count atomically.
func (r *ProfileRepo) RecordLogin(ctx context.Context, id string, at time.Time) (*domainauth.Profile, error) {
	p, err := pgxutil.QueryOne[domainauth.Profile](ctx, r.DB, `
		UPDATE profiles
		SET last_login_at = $1, login_count = login_count + 1
		WHERE id = $2
		RETURNING `+profileColumns, at.UTC(), id)
	if err != nil {
		return nil, r.mapErr(err, "record login")
	}
	return &p, nil
}

// MarkPasswordChanged stamps password_changed_at.
func (r *ProfileRepo) MarkPasswordChanged(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE profiles SET password_changed_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return r.mapErr(err, "mark password changed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark password changed: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("profile %s not found", id)
	}
	return nil
}

// List returns profiles ordered by creation time, newest first.
func (r *ProfileRepo) List(ctx context.Context, opts ports.ProfileListOptions) ([]*domainauth.Profile, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultProfileListLimit
	}
	limit = min(limit, maxProfileListLimit)
	offset := max(opts.Offset, 0)

	var (
		where []string
		args  []any
	)
	if opts.Role != nil {
		args = append(args, *opts.Role)
		where = append(where, "role = $"+strconv.Itoa(len(args)))
	}
	if opts.Active != nil {
		args = append(args, *opts.Active)
		where = append(where, "is_active = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + profileColumns + ` FROM profiles`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := pgxutil.QueryAll[domainauth.Profile](ctx, r.DB, query, args...)
	if err != nil {
		return nil, r.mapErr(err, "list profiles")
	}
	out := make([]*domainauth.Profile, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (r *ProfileRepo) applyUpdate(ctx context.Context, id string, sb *setBuilder) (*domainauth.Profile, error) {
	if sb.empty() {
		return r.GetByID(ctx, id)
	}
	sb.add("updated_at", r.timeProvider.Now().UTC())
	args := append(sb.args, id)
	query := "UPDATE profiles SET " + strings.Join(sb.parts, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) + " RETURNING " + profileColumns

	p, err := pgxutil.QueryOne[domainauth.Profile](ctx, r.DB, query, args...)
	if err != nil {
		return nil, r.mapErr(err, "update profile")
	}
	return &p, nil
}

func (r *ProfileRepo) mapErr(err error, op string) error {
	mapped := apperrors.MapDBError(err)
	var appErr *apperrors.AppError
	if errors.As(mapped, &appErr) {
		return mapped
	}
	return fmt.Errorf("%s: %w", op, err)
}

// setBuilder accumulates "col = $n" fragments for an UPDATE statement.
type setBuilder struct {
	parts []string
	args  []any
}

func (b *setBuilder) add(column string, value any) {
	b.args = append(b.args, value)
	b.parts = append(b.parts, column+" = $"+strconv.Itoa(len(b.args)))
}

func (b *setBuilder) addString(column string, value *string) {
	if value != nil {
		b.add(column, strings.TrimSpace(*value))
	}
}

func (b *setBuilder) empty() bool { return len(b.parts) == 0 }
