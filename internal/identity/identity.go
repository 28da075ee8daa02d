// Package identity resolves credentials against the three principal
// collections (students, staff, admins) in a fixed priority order.
package identity

import (
	"context"
	"errors"
	"strings"

	"resultpro/identity/internal/crypto"
	"resultpro/identity/internal/model"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

var (
	// ErrNotFound is the contract error for Directory lookups on an
	// absent email.
	ErrNotFound = errors.New("not found")

	ErrUserNotFound  = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
)

// Principal is the role-tagged view of an authenticated user. It never
// carries the password hash.
type Principal struct {
	Role       Role
	ID         string
	Email      string
	Name       string
	Username   string
	Faculty    string
	Department string
	Level      string
	Title      string
}

// Directory provides email lookups over the three disjoint collections.
// Implementations return an error wrapping ErrNotFound when the email
// has no record in the queried collection.
type Directory interface {
	StudentByEmail(ctx context.Context, email string) (model.Student, error)
	StaffByEmail(ctx context.Context, email string) (model.Staff, error)
	AdminByEmail(ctx context.Context, email string) (model.Admin, error)
}

// NormalizeEmail lower-cases and trims an email before any lookup.
// Passwords are never normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Login resolves an (email, password) pair by scanning the student,
// staff and admin collections in that fixed order. The first collection
// holding the email wins: a password mismatch there fails immediately
// with ErrWrongPassword, with no fallthrough even if the email also
// exists in a later collection.
func (r *Resolver) Login(ctx context.Context, email, password string) (Principal, error) {
	email = NormalizeEmail(email)

	student, err := r.dir.StudentByEmail(ctx, email)
	if err == nil {
		if crypto.CheckPassword(student.PasswordHash, password) != nil {
			return Principal{}, ErrWrongPassword
		}
		return StudentPrincipal(student), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Principal{}, err
	}

	staff, err := r.dir.StaffByEmail(ctx, email)
	if err == nil {
		if crypto.CheckPassword(staff.PasswordHash, password) != nil {
			return Principal{}, ErrWrongPassword
		}
		return StaffPrincipal(staff), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Principal{}, err
	}

	admin, err := r.dir.AdminByEmail(ctx, email)
	if err == nil {
		if crypto.CheckPassword(admin.PasswordHash, password) != nil {
			return Principal{}, ErrWrongPassword
		}
		return AdminPrincipal(admin), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Principal{}, err
	}

	return Principal{}, ErrUserNotFound
}

// StudentPrincipal builds the student view. The registration number
// doubles as the username, matching what the records application shows.
func StudentPrincipal(s model.Student) Principal {
	return Principal{
		Role:       RoleStudent,
		ID:         s.ID,
		Email:      s.Email,
		Name:       s.Name,
		Username:   s.RegNumber,
		Faculty:    s.Faculty,
		Department: s.Department,
		Level:      s.Level,
	}
}

func StaffPrincipal(s model.Staff) Principal {
	return Principal{
		Role:       RoleStaff,
		ID:         s.ID,
		Email:      s.Email,
		Name:       s.Name,
		Username:   s.Username,
		Faculty:    s.Faculty,
		Department: s.Department,
		Title:      s.Role,
	}
}

func AdminPrincipal(a model.Admin) Principal {
	name := a.Name
	if name == "" {
		name = "Admin"
	}
	return Principal{
		Role:       RoleAdmin,
		ID:         a.ID,
		Email:      a.Email,
		Name:       name,
		Username:   a.Username,
		Faculty:    a.Faculty,
		Department: a.Department,
		Title:      a.Role,
	}
}
