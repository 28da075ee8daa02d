package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"resultpro/identity/internal/db"
	"resultpro/identity/internal/identity"
	"resultpro/identity/internal/repository"
	"resultpro/identity/internal/reset"

	"github.com/jackc/pgx/v5/pgxpool"
)

type fakeAuth struct {
	principal identity.Principal
	err       error
}

func (f *fakeAuth) Login(_ context.Context, _, _ string) (identity.Principal, error) {
	return f.principal, f.err
}

type fakeReset struct {
	sendErr   error
	verifyErr error
}

func (f *fakeReset) SendCode(_ context.Context, _ string) error {
	return f.sendErr
}

func (f *fakeReset) VerifyAndReset(_ context.Context, _, _, _ string) error {
	return f.verifyErr
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

func doReq(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return payload
}

func TestSendOTPEndpoint(t *testing.T) {
	cases := []struct {
		name        string
		body        interface{}
		sendErr     error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "success",
			body:        map[string]string{"email": "a@stu.vau.ac.lk"},
			wantStatus:  http.StatusOK,
			wantMessage: "OTP sent to your university email.",
		},
		{
			name:        "missing email",
			body:        map[string]string{"email": ""},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Email is required",
		},
		{
			name:        "foreign domain",
			body:        map[string]string{"email": "a@gmail.com"},
			sendErr:     reset.ErrInvalidDomain,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Use your university email only",
		},
		{
			name:        "already pending",
			body:        map[string]string{"email": "a@stu.vau.ac.lk"},
			sendErr:     reset.ErrAlreadyPending,
			wantStatus:  http.StatusTooManyRequests,
			wantMessage: "OTP already sent. Please wait before requesting again.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(&fakeAuth{}, &fakeReset{sendErr: tc.sendErr}, nil, &fakeSender{})
			app := httptest.NewServer(server.Router())
			defer app.Close()

			resp := doReq(t, http.MethodPost, app.URL+"/otp/send", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}
			if got := decodeBody(t, resp)["message"]; got != tc.wantMessage {
				t.Fatalf("expected message %q, got %q", tc.wantMessage, got)
			}
		})
	}
}

func TestVerifyOTPEndpoint(t *testing.T) {
	cases := []struct {
		name        string
		verifyErr   error
		wantStatus  int
		wantMessage string
	}{
		{"success", nil, http.StatusOK, "Password changed successfully"},
		{"weak password", reset.ErrWeakPassword, http.StatusBadRequest, "New password must be at least 6 characters long"},
		{"no record", reset.ErrNotFoundOrExpired, http.StatusBadRequest, "OTP not found or expired"},
		{"expired", reset.ErrExpired, http.StatusBadRequest, "OTP expired"},
		{"attempt ceiling", reset.ErrTooManyAttempts, http.StatusTooManyRequests, "Too many attempts. Request a new OTP."},
		{"wrong code", reset.ErrInvalidCode, http.StatusBadRequest, "Invalid OTP"},
		{"no user", reset.ErrUserNotFound, http.StatusBadRequest, "User not found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(&fakeAuth{}, &fakeReset{verifyErr: tc.verifyErr}, nil, &fakeSender{})
			app := httptest.NewServer(server.Router())
			defer app.Close()

			body := map[string]string{"email": "a@stu.vau.ac.lk", "otp": "123456", "newPassword": "abcdef"}
			resp := doReq(t, http.MethodPost, app.URL+"/otp/verify-and-reset", body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}
			if got := decodeBody(t, resp)["message"]; got != tc.wantMessage {
				t.Fatalf("expected message %q, got %q", tc.wantMessage, got)
			}
		})
	}
}

func TestVerifyOTPRequiresEmailAndCode(t *testing.T) {
	server := NewServer(&fakeAuth{}, &fakeReset{}, nil, &fakeSender{})
	app := httptest.NewServer(server.Router())
	defer app.Close()

	resp := doReq(t, http.MethodPost, app.URL+"/otp/verify-and-reset", map[string]string{"email": "a@stu.vau.ac.lk"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["message"]; got != "Email and OTP are required" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestLoginEndpoint(t *testing.T) {
	student := identity.Principal{
		Role:       identity.RoleStudent,
		ID:         "s1",
		Email:      "a@stu.vau.ac.lk",
		Name:       "A Student",
		Username:   "2020/ICT/01",
		Faculty:    "FAS",
		Department: "ICT",
		Level:      "3",
	}

	cases := []struct {
		name       string
		auth       *fakeAuth
		body       map[string]string
		wantStatus int
	}{
		{"success", &fakeAuth{principal: student}, map[string]string{"email": student.Email, "password": "pw"}, http.StatusOK},
		{"wrong password", &fakeAuth{err: identity.ErrWrongPassword}, map[string]string{"email": student.Email, "password": "nope"}, http.StatusUnauthorized},
		{"unknown user", &fakeAuth{err: identity.ErrUserNotFound}, map[string]string{"email": "x@vau.ac.lk", "password": "pw"}, http.StatusNotFound},
		{"missing fields", &fakeAuth{}, map[string]string{"email": student.Email}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(tc.auth, &fakeReset{}, nil, &fakeSender{})
			app := httptest.NewServer(server.Router())
			defer app.Close()

			resp := doReq(t, http.MethodPost, app.URL+"/login", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}

			payload := decodeBody(t, resp)
			if tc.wantStatus != http.StatusOK {
				if payload["success"] != false {
					t.Fatalf("expected success=false, got %v", payload["success"])
				}
				return
			}
			if payload["success"] != true || payload["role"] != "student" {
				t.Fatalf("unexpected payload: %v", payload)
			}
			user, _ := payload["user"].(map[string]interface{})
			if user["username"] != student.Username || user["level"] != student.Level {
				t.Fatalf("unexpected user view: %v", user)
			}
			if _, leaked := user["password"]; leaked {
				t.Fatalf("user view leaked a password field")
			}
		})
	}
}

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("IDENTITY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("IDENTITY_TEST_DATABASE_URL not set")
		return nil
	}
	if err := db.Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	return pool
}

func TestStudentRegistrationEndpoints(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	sender := &fakeSender{}
	server := NewServer(&fakeAuth{}, &fakeReset{}, store, sender)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	stamp := time.Now().Format("150405.000")
	body := map[string]string{
		"name":        "Test Student",
		"regNumber":   "2025/ICT/" + stamp,
		"indexNumber": "IDX" + stamp,
		"email":       fmt.Sprintf("student.%s@stu.vau.ac.lk", stamp),
		"password":    "secret123",
		"faculty":     "FAS",
		"department":  "ICT",
		"level":       "1",
		"address":     "Vavuniya",
		"birthdate":   "2003-01-01",
		"gender":      "other",
		"mobile":      "0770000000",
	}

	resp := doReq(t, http.MethodPost, app.URL+"/students/register", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decodeBody(t, resp)
	if payload["success"] != true {
		t.Fatalf("expected success, got %v", payload)
	}
	student, _ := payload["student"].(map[string]interface{})
	studentID, _ := student["id"].(string)
	if studentID == "" {
		t.Fatalf("expected a student id, got %v", payload)
	}

	// Same reg number again: duplicate.
	resp = doReq(t, http.MethodPost, app.URL+"/students/register", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on duplicate, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["message"]; got != "Student with this Reg or Index number already exists." {
		t.Fatalf("unexpected message %q", got)
	}

	// Listing by the registered filters finds the student, without a
	// password field.
	resp = doReq(t, http.MethodGet, app.URL+"/students/?faculty=FAS&department=ICT&level=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	listing := decodeBody(t, resp)
	students, _ := listing["students"].([]interface{})
	found := false
	for _, entry := range students {
		view, _ := entry.(map[string]interface{})
		if view["id"] == studentID {
			found = true
			if _, leaked := view["password"]; leaked {
				t.Fatalf("listing leaked a password field")
			}
		}
	}
	if !found {
		t.Fatalf("registered student missing from listing")
	}

	resp = doReq(t, http.MethodDelete, app.URL+"/students/"+studentID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["message"]; got != "Student deleted successfully." {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestBulkStudentsRejectsMissingArray(t *testing.T) {
	server := NewServer(&fakeAuth{}, &fakeReset{}, nil, &fakeSender{})
	app := httptest.NewServer(server.Router())
	defer app.Close()

	resp := doReq(t, http.MethodPost, app.URL+"/students/bulk", map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["message"]; got != "Invalid data." {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestStaffRegisterMissingFields(t *testing.T) {
	server := NewServer(&fakeAuth{}, &fakeReset{}, nil, &fakeSender{})
	app := httptest.NewServer(server.Router())
	defer app.Close()

	resp := doReq(t, http.MethodPost, app.URL+"/staff/register", map[string]string{"email": "x@vau.ac.lk"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decodeBody(t, resp)
	if payload["success"] != false || payload["message"] != "username, email, password and name required" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}
