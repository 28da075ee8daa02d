package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resultpro/identity/internal/crypto"
	"resultpro/identity/internal/identity"
	"resultpro/identity/internal/model"
	"resultpro/identity/internal/repository"
	"resultpro/identity/internal/reset"
)

// Authenticator resolves an (email, password) pair to a role-tagged
// principal.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (identity.Principal, error)
}

// PasswordReset is the OTP workflow behind the two reset endpoints.
type PasswordReset interface {
	SendCode(ctx context.Context, email string) error
	VerifyAndReset(ctx context.Context, email, code, newPassword string) error
}

type Server struct {
	auth   Authenticator
	reset  PasswordReset
	store  *repository.Store
	sender reset.Sender
}

func NewServer(auth Authenticator, passwordReset PasswordReset, store *repository.Store, sender reset.Sender) *Server {
	return &Server{
		auth:   auth,
		reset:  passwordReset,
		store:  store,
		sender: sender,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/otp/send", s.handleSendOTP)
	r.Post("/otp/verify-and-reset", s.handleVerifyOTP)
	r.Post("/login", s.handleLogin)

	r.Post("/staff/register", s.handleRegisterStaff)

	r.Route("/students", func(r chi.Router) {
		r.Post("/register", s.handleRegisterStudent)
		r.Post("/bulk", s.handleBulkStudents)
		r.Get("/", s.handleListStudents)
		r.Delete("/{id}", s.handleDeleteStudent)
	})

	return r
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Email is required")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeMessage(w, http.StatusBadRequest, "Email is required")
		return
	}

	err := s.reset.SendCode(r.Context(), req.Email)
	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, "OTP sent to your university email.")
	case errors.Is(err, reset.ErrInvalidDomain):
		writeMessage(w, http.StatusBadRequest, "Use your university email only")
	case errors.Is(err, reset.ErrAlreadyPending):
		writeMessage(w, http.StatusTooManyRequests, "OTP already sent. Please wait before requesting again.")
	default:
		log.Printf("send-otp error: %v", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to send OTP")
	}
}

type verifyOTPRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Email and OTP are required")
		return
	}
	if req.Email == "" || req.OTP == "" {
		writeMessage(w, http.StatusBadRequest, "Email and OTP are required")
		return
	}

	err := s.reset.VerifyAndReset(r.Context(), req.Email, req.OTP, req.NewPassword)
	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, "Password changed successfully")
	case errors.Is(err, reset.ErrWeakPassword):
		writeMessage(w, http.StatusBadRequest, "New password must be at least 6 characters long")
	case errors.Is(err, reset.ErrNotFoundOrExpired):
		writeMessage(w, http.StatusBadRequest, "OTP not found or expired")
	case errors.Is(err, reset.ErrExpired):
		writeMessage(w, http.StatusBadRequest, "OTP expired")
	case errors.Is(err, reset.ErrTooManyAttempts):
		writeMessage(w, http.StatusTooManyRequests, "Too many attempts. Request a new OTP.")
	case errors.Is(err, reset.ErrInvalidCode):
		writeMessage(w, http.StatusBadRequest, "Invalid OTP")
	case errors.Is(err, reset.ErrUserNotFound):
		writeMessage(w, http.StatusBadRequest, "User not found")
	default:
		log.Printf("verify-otp error: %v", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to verify OTP")
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type principalView struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Faculty    string `json:"faculty"`
	Department string `json:"department"`
	Level      string `json:"level,omitempty"`
	Role       string `json:"role,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Email and password required")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "Email and password required")
		return
	}

	principal, err := s.auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrWrongPassword):
		writeFailure(w, http.StatusUnauthorized, "Incorrect password")
		return
	case errors.Is(err, identity.ErrUserNotFound):
		writeFailure(w, http.StatusNotFound, "User not found")
		return
	default:
		log.Printf("login error: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"role":    principal.Role,
		"user": principalView{
			ID:         principal.ID,
			Email:      principal.Email,
			Name:       principal.Name,
			Username:   principal.Username,
			Faculty:    principal.Faculty,
			Department: principal.Department,
			Level:      principal.Level,
			Role:       principal.Title,
		},
	})
}

type registerStaffRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Faculty    string `json:"faculty"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

// handleRegisterStaff keeps the records application's contract: missing
// fields and duplicates come back 200 with success=false, not 4xx.
func (s *Server) handleRegisterStaff(w http.ResponseWriter, r *http.Request) {
	var req registerStaffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusOK, "username, email, password and name required")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" || req.Name == "" {
		writeFailure(w, http.StatusOK, "username, email, password and name required")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		log.Printf("staff register error: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Server error")
		return
	}

	staff := model.Staff{
		Username:     req.Username,
		Email:        identity.NormalizeEmail(req.Email),
		Name:         req.Name,
		Faculty:      req.Faculty,
		Department:   req.Department,
		Role:         "staff",
		PasswordHash: hash,
	}
	if _, err := s.store.CreateStaff(r.Context(), staff); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			writeFailure(w, http.StatusOK, "Email already taken")
			return
		}
		log.Printf("staff register error: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Staff registered successfully",
	})
}

type studentRequest struct {
	Name        string `json:"name"`
	RegNumber   string `json:"regNumber"`
	IndexNumber string `json:"indexNumber"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Faculty     string `json:"faculty"`
	Department  string `json:"department"`
	Level       string `json:"level"`
	Address     string `json:"address"`
	Birthdate   string `json:"birthdate"`
	Gender      string `json:"gender"`
	Mobile      string `json:"mobile"`
}

func (r studentRequest) complete() bool {
	return r.Name != "" && r.RegNumber != "" && r.IndexNumber != "" &&
		r.Email != "" && r.Password != "" && r.Faculty != "" &&
		r.Department != "" && r.Level != "" && r.Address != "" &&
		r.Birthdate != "" && r.Gender != "" && r.Mobile != ""
}

func (r studentRequest) toModel(hash string) model.Student {
	return model.Student{
		RegNumber:    r.RegNumber,
		IndexNumber:  r.IndexNumber,
		Email:        identity.NormalizeEmail(r.Email),
		Name:         r.Name,
		Faculty:      r.Faculty,
		Department:   r.Department,
		Level:        r.Level,
		Address:      r.Address,
		Birthdate:    r.Birthdate,
		Gender:       r.Gender,
		Mobile:       r.Mobile,
		PasswordHash: hash,
	}
}

type studentView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RegNumber   string `json:"regNumber"`
	IndexNumber string `json:"indexNumber"`
	Email       string `json:"email"`
	Faculty     string `json:"faculty"`
	Department  string `json:"department"`
	Level       string `json:"level"`
	Address     string `json:"address"`
	Birthdate   string `json:"birthdate"`
	Gender      string `json:"gender"`
	Mobile      string `json:"mobile"`
}

func viewStudent(s model.Student) studentView {
	return studentView{
		ID:          s.ID,
		Name:        s.Name,
		RegNumber:   s.RegNumber,
		IndexNumber: s.IndexNumber,
		Email:       s.Email,
		Faculty:     s.Faculty,
		Department:  s.Department,
		Level:       s.Level,
		Address:     s.Address,
		Birthdate:   s.Birthdate,
		Gender:      s.Gender,
		Mobile:      s.Mobile,
	}
}

func (s *Server) handleRegisterStudent(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "All fields are required.")
		return
	}
	if !req.complete() {
		writeFailure(w, http.StatusBadRequest, "All fields are required.")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		log.Printf("student register error: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Server error.")
		return
	}

	student, err := s.store.CreateStudent(r.Context(), req.toModel(hash))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateStudent) {
			writeFailure(w, http.StatusBadRequest, "Student with this Reg or Index number already exists.")
			return
		}
		log.Printf("student register error: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Server error.")
		return
	}

	s.sendCredentials(student.Email, student.Name, student.RegNumber, req.Password)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"student": viewStudent(student),
	})
}

type bulkStudentsRequest struct {
	Students []studentRequest `json:"students"`
}

// handleBulkStudents is an unordered batch: rows colliding with
// existing records are skipped, the rest land, and the upload is
// reported as a success either way. Each described row gets a
// credentials email.
func (s *Server) handleBulkStudents(w http.ResponseWriter, r *http.Request) {
	var req bulkStudentsRequest
	if err := decodeJSON(r, &req); err != nil || req.Students == nil {
		writeFailure(w, http.StatusBadRequest, "Invalid data.")
		return
	}

	students := make([]model.Student, 0, len(req.Students))
	passwords := make([]string, 0, len(req.Students))
	for _, candidate := range req.Students {
		hash, err := crypto.HashPassword(candidate.Password)
		if err != nil {
			log.Printf("bulk upload error: %v", err)
			writeFailure(w, http.StatusInternalServerError, "Error during bulk upload.")
			return
		}
		students = append(students, candidate.toModel(hash))
		passwords = append(passwords, candidate.Password)
	}

	if _, err := s.store.BulkCreateStudents(r.Context(), students); err != nil {
		log.Printf("bulk upload error: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Error during bulk upload.")
		return
	}

	for i, student := range students {
		if student.Email == "" {
			continue
		}
		s.sendCredentials(student.Email, student.Name, student.RegNumber, passwords[i])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Bulk upload successful and emails sent.",
	})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	students, err := s.store.ListStudents(r.Context(),
		strings.TrimSpace(query.Get("faculty")),
		strings.TrimSpace(query.Get("department")),
		strings.TrimSpace(query.Get("level")),
	)
	if err != nil {
		log.Printf("list students error: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Fetch failed.")
		return
	}

	views := make([]studentView, 0, len(students))
	for _, student := range students {
		views = append(views, viewStudent(student))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"students": views,
	})
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.DeleteStudent(r.Context(), chi.URLParam(r, "id")); err != nil {
		log.Printf("delete student error: %v", err)
		writeFailure(w, http.StatusInternalServerError, "Delete failed.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Student deleted successfully.",
	})
}

// sendCredentials mails a freshly registered student their login pair.
// Fire-and-forget: a failed delivery is logged and never fails the
// registration that triggered it.
func (s *Server) sendCredentials(email, name, regNumber, password string) {
	body := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; line-height: 1.6;">
  <h3>Welcome to the University Result Management System</h3>
  <p>Dear %s,</p>
  <p>Your account has been created successfully.</p>
  <p><b>Username:</b> %s</p>
  <p><b>Password:</b> %s</p>
  <p>Please change your password after your first login immediately.</p>
  <p>Best regards,<br/>University Admin</p>
</div>`, name, regNumber, password)

	go func() {
		if err := s.sender.Send(email, "Your Student Account Credentials", body); err != nil {
			log.Printf("credentials email failed for %s: %v", email, err)
		}
	}()
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
