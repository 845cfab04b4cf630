package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebridge/ebridge/pkg/models"
)

// PGUserStore persists accounts in PostgreSQL.
type PGUserStore struct {
	pool *pgxpool.Pool
}

// NewPGUserStore creates a Postgres-backed account store. The schema is
// managed by the db package's migrator.
func NewPGUserStore(pool *pgxpool.Pool) *PGUserStore {
	return &PGUserStore{pool: pool}
}

func (s *PGUserStore) Create(ctx context.Context, user models.User, passwordHash string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, normalizeEmail(user.Email), passwordHash,
		user.FirstName, user.LastName, user.Role, user.IsActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	if user.Doctor != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO doctor_profiles (id, user_id, license_number, specialty, consultory_room)
			VALUES ($1, $2, $3, $4, $5)`,
			user.Doctor.ID, user.ID, user.Doctor.LicenseNumber,
			user.Doctor.Specialty, user.Doctor.ConsultoryRoom,
		)
		if err != nil {
			return fmt.Errorf("insert doctor profile: %w", err)
		}
	}
	if user.Admin != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO admin_profiles (id, user_id, department)
			VALUES ($1, $2, $3)`,
			user.Admin.ID, user.ID, user.Admin.Department,
		)
		if err != nil {
			return fmt.Errorf("insert admin profile: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PGUserStore) GetByEmail(ctx context.Context, email string) (*account, error) {
	return s.get(ctx, "u.email = $1", normalizeEmail(email))
}

func (s *PGUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	acct, err := s.get(ctx, "u.id = $1", id)
	if err != nil {
		return nil, err
	}
	return &acct.User, nil
}

func (s *PGUserStore) get(ctx context.Context, where string, arg any) (*account, error) {
	query := fmt.Sprintf(`
		SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name,
		       u.role, u.is_active,
		       d.id, d.license_number, d.specialty, d.consultory_room,
		       a.id, a.department
		FROM users u
		LEFT JOIN doctor_profiles d ON d.user_id = u.id
		LEFT JOIN admin_profiles a ON a.user_id = u.id
		WHERE %s`, where)

	var (
		acct       account
		doctorID   *string
		license    *string
		specialty  *string
		room       *string
		adminID    *string
		department *string
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&acct.User.ID, &acct.User.Email, &acct.PasswordHash,
		&acct.User.FirstName, &acct.User.LastName,
		&acct.User.Role, &acct.User.IsActive,
		&doctorID, &license, &specialty, &room,
		&adminID, &department,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if doctorID != nil {
		acct.User.Doctor = &models.DoctorProfile{
			ID:             *doctorID,
			LicenseNumber:  deref(license),
			Specialty:      deref(specialty),
			ConsultoryRoom: deref(room),
		}
	}
	if adminID != nil {
		acct.User.Admin = &models.AdminProfile{
			ID:         *adminID,
			Department: deref(department),
		}
	}
	return &acct, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
