// Package repository is the pgx-backed credential store over the three
// disjoint principal tables.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"resultpro/identity/internal/identity"
	"resultpro/identity/internal/model"
)

var (
	// ErrDuplicateStudent signals a reg number or index number already
	// on file.
	ErrDuplicateStudent = errors.New("student already exists")
	// ErrDuplicateEmail signals an email already on file.
	ErrDuplicateEmail = errors.New("email already taken")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const studentColumns = `id, reg_number, index_number, email, name, faculty, department, level, address, birthdate, gender, mobile, password_hash, created_at, updated_at`

func scanStudent(row pgx.Row) (model.Student, error) {
	var student model.Student
	err := row.Scan(
		&student.ID,
		&student.RegNumber,
		&student.IndexNumber,
		&student.Email,
		&student.Name,
		&student.Faculty,
		&student.Department,
		&student.Level,
		&student.Address,
		&student.Birthdate,
		&student.Gender,
		&student.Mobile,
		&student.PasswordHash,
		&student.CreatedAt,
		&student.UpdatedAt,
	)
	return student, err
}

func (s *Store) StudentByEmail(ctx context.Context, email string) (model.Student, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE email = $1
	`, email)
	student, err := scanStudent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Student{}, identity.ErrNotFound
	}
	return student, err
}

func (s *Store) StaffByEmail(ctx context.Context, email string) (model.Staff, error) {
	var staff model.Staff
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, name, faculty, department, role, password_hash, created_at, updated_at
		FROM staff
		WHERE email = $1
	`, email)
	err := row.Scan(
		&staff.ID,
		&staff.Username,
		&staff.Email,
		&staff.Name,
		&staff.Faculty,
		&staff.Department,
		&staff.Role,
		&staff.PasswordHash,
		&staff.CreatedAt,
		&staff.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Staff{}, identity.ErrNotFound
	}
	return staff, err
}

func (s *Store) AdminByEmail(ctx context.Context, email string) (model.Admin, error) {
	var admin model.Admin
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, email, name, faculty, department, role, password_hash, created_at, updated_at
		FROM admins
		WHERE email = $1
	`, email)
	err := row.Scan(
		&admin.ID,
		&admin.Username,
		&admin.Email,
		&admin.Name,
		&admin.Faculty,
		&admin.Department,
		&admin.Role,
		&admin.PasswordHash,
		&admin.CreatedAt,
		&admin.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Admin{}, identity.ErrNotFound
	}
	return admin, err
}

// SetPassword overwrites the stored hash for one principal. The role
// picks the table; tables are disjoint so no cross-table ambiguity
// exists.
func (s *Store) SetPassword(ctx context.Context, role identity.Role, id, hash string) error {
	var table string
	switch role {
	case identity.RoleStudent:
		table = "students"
	case identity.RoleStaff:
		table = "staff"
	case identity.RoleAdmin:
		table = "admins"
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE `+table+`
		SET password_hash = $1, updated_at = $2
		WHERE id = $3
	`, hash, time.Now().UTC(), id)
	return err
}

// CreateStudent inserts one student, rejecting a reg number or index
// number already on file with ErrDuplicateStudent. The caller passes
// the hash already computed and the email already normalized.
func (s *Store) CreateStudent(ctx context.Context, student model.Student) (model.Student, error) {
	if exists(ctx, s.pool, `SELECT 1 FROM students WHERE reg_number = $1 OR index_number = $2`, student.RegNumber, student.IndexNumber) {
		return model.Student{}, ErrDuplicateStudent
	}

	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO students (`+studentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		student.ID,
		student.RegNumber,
		student.IndexNumber,
		student.Email,
		student.Name,
		student.Faculty,
		student.Department,
		student.Level,
		student.Address,
		student.Birthdate,
		student.Gender,
		student.Mobile,
		student.PasswordHash,
		student.CreatedAt,
		student.UpdatedAt,
	)
	if err != nil {
		return model.Student{}, err
	}
	return student, nil
}

// CreateStaff inserts one staff member, rejecting an email already on
// file with ErrDuplicateEmail.
func (s *Store) CreateStaff(ctx context.Context, staff model.Staff) (model.Staff, error) {
	if exists(ctx, s.pool, `SELECT 1 FROM staff WHERE email = $1`, staff.Email) {
		return model.Staff{}, ErrDuplicateEmail
	}

	if staff.ID == "" {
		staff.ID = uuid.NewString()
	}
	if staff.Role == "" {
		staff.Role = "staff"
	}
	now := time.Now().UTC()
	staff.CreatedAt = now
	staff.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO staff (id, username, email, name, faculty, department, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		staff.ID,
		staff.Username,
		staff.Email,
		staff.Name,
		staff.Faculty,
		staff.Department,
		staff.Role,
		staff.PasswordHash,
		staff.CreatedAt,
		staff.UpdatedAt,
	)
	if err != nil {
		return model.Staff{}, err
	}
	return staff, nil
}

// BulkCreateStudents inserts a batch without ordering or atomicity
// guarantees: rows colliding on reg number, index number or email are
// skipped and the rest go through. Returns how many rows landed.
func (s *Store) BulkCreateStudents(ctx context.Context, students []model.Student) (int, error) {
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for i := range students {
		student := &students[i]
		if student.ID == "" {
			student.ID = uuid.NewString()
		}
		student.CreatedAt = now
		student.UpdatedAt = now
		batch.Queue(`
			INSERT INTO students (`+studentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT DO NOTHING
		`,
			student.ID,
			student.RegNumber,
			student.IndexNumber,
			student.Email,
			student.Name,
			student.Faculty,
			student.Department,
			student.Level,
			student.Address,
			student.Birthdate,
			student.Gender,
			student.Mobile,
			student.PasswordHash,
			student.CreatedAt,
			student.UpdatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range students {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListStudents returns students matching the non-empty filters, newest
// first.
func (s *Store) ListStudents(ctx context.Context, faculty, department, level string) ([]model.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	var (
		clauses []string
		args    []any
	)
	for _, filter := range []struct {
		column string
		value  string
	}{
		{"faculty", faculty},
		{"department", department},
		{"level", level},
	} {
		if filter.value == "" {
			continue
		}
		args = append(args, filter.value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", filter.column, len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := []model.Student{}
	for rows.Next() {
		student, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	return students, rows.Err()
}

// DeleteStudent removes one student by id, reporting whether a row was
// there to delete.
func (s *Store) DeleteStudent(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func exists(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) bool {
	var found bool
	_ = pool.QueryRow(ctx, `SELECT EXISTS (`+query+`)`, args...).Scan(&found)
	return found
}
