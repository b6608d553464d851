package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"lattice.dev/internal/ids"
)

var _ UserStore = (*PGStore)(nil)

// PGStore implements UserStore on PostgreSQL via database/sql with the pgx
// driver.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, username, email, password_hash, first_name, last_name, phone,
	roles, is_active, is_email_verified, failed_login_attempts, locked_until,
	version, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Version = 0

	_, err := s.db.ExecContext(ctx,
		`insert into users(id, username, email, password_hash, first_name, last_name, phone,
		   roles, is_active, is_email_verified, failed_login_attempts, locked_until, version, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone,
		strings.Join(u.Roles, ","), u.Active, u.EmailVerified, u.FailedLoginAttempts,
		u.LockedUntil, u.Version, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(username)=lower($1)`, username)
	return scanUser(row)
}

func (s *PGStore) Update(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx,
		`update users set first_name=$1, last_name=$2, phone=$3, roles=$4, is_active=$5,
		   is_email_verified=$6, failed_login_attempts=$7, locked_until=$8,
		   version=version+1, updated_at=$9
		 where id=$10 and version=$11`,
		u.FirstName, u.LastName, u.Phone, strings.Join(u.Roles, ","), u.Active,
		u.EmailVerified, u.FailedLoginAttempts, u.LockedUntil,
		time.Now().UTC(), u.ID, u.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	u.Version++
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u     User
		roles string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Phone, &roles, &u.Active, &u.EmailVerified, &u.FailedLoginAttempts, &u.LockedUntil,
		&u.Version, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if roles != "" {
		u.Roles = strings.Split(roles, ",")
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
