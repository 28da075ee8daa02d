// Package reset coordinates OTP issuance, verification, rate limiting
// and password replacement across the three principal collections.
package reset

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"resultpro/identity/internal/crypto"
	"resultpro/identity/internal/identity"
	"resultpro/identity/internal/otp"
)

const minPasswordLen = 6

var (
	ErrInvalidDomain     = errors.New("email domain not allowed")
	ErrAlreadyPending    = errors.New("otp already pending")
	ErrNotFoundOrExpired = errors.New("otp not found or expired")
	ErrExpired           = errors.New("otp expired")
	ErrTooManyAttempts   = errors.New("too many attempts")
	ErrInvalidCode       = errors.New("invalid otp")
	ErrWeakPassword      = errors.New("password too short")
	ErrUserNotFound      = errors.New("user not found")
)

// Sender delivers a message to an email address. Delivery is
// best-effort: the orchestrator never acts on a send failure beyond
// logging it.
type Sender interface {
	Send(to, subject, body string) error
}

// PasswordStore overwrites the stored hash for a resolved principal.
type PasswordStore interface {
	SetPassword(ctx context.Context, role identity.Role, id, hash string) error
}

type Orchestrator struct {
	ledger         otp.Ledger
	dir            identity.Directory
	passwords      PasswordStore
	sender         Sender
	allowedDomains []string
	ttl            time.Duration

	// Read-modify-write sequences on a single email's record are
	// serialized behind a per-email lock; the storage layer alone only
	// guarantees per-operation atomicity.
	locks keyedMutex
}

func NewOrchestrator(ledger otp.Ledger, dir identity.Directory, passwords PasswordStore, sender Sender, allowedDomains []string, ttl time.Duration) *Orchestrator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Orchestrator{
		ledger:         ledger,
		dir:            dir,
		passwords:      passwords,
		sender:         sender,
		allowedDomains: allowedDomains,
		ttl:            ttl,
	}
}

// SendCode issues a fresh 6-digit code for the email, upserts the
// ledger record and hands the templated message to the sender. At most
// one live code per email: a non-expired record fails ErrAlreadyPending
// untouched. The acknowledgement does not wait on delivery and the
// ledger write is never rolled back on a send failure.
func (o *Orchestrator) SendCode(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)
	if !o.domainAllowed(email) {
		return ErrInvalidDomain
	}

	unlock := o.locks.lock(email)
	defer unlock()

	record, found, err := o.ledger.Get(ctx, email)
	if err != nil {
		return err
	}
	if found && !record.Expired(time.Now()) {
		return ErrAlreadyPending
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	record = otp.Record{
		Code:      code,
		ExpiresAt: time.Now().Add(o.ttl).UTC(),
		Attempts:  0,
	}
	if err := o.ledger.Put(ctx, email, record); err != nil {
		return err
	}

	subject := "University Password Reset OTP"
	body := fmt.Sprintf("Your OTP is %s. It expires in %d minutes.", code, int(o.ttl.Minutes()))
	go func() {
		if err := o.sender.Send(email, subject, body); err != nil {
			log.Printf("otp send failed for %s: %v", email, err)
		}
	}()

	return nil
}

// VerifyAndReset runs the ordered verification checks and, on a match,
// replaces the principal's password hash and deletes the record. The
// ledger delete and the hash overwrite are not one transaction; the
// per-email lock keeps concurrent verifications from double-spending a
// code in-process.
func (o *Orchestrator) VerifyAndReset(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}
	email = identity.NormalizeEmail(email)

	unlock := o.locks.lock(email)
	defer unlock()

	record, found, err := o.ledger.Get(ctx, email)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFoundOrExpired
	}
	if record.Expired(time.Now()) {
		if err := o.ledger.Delete(ctx, email); err != nil {
			return err
		}
		return ErrExpired
	}
	if record.Attempts >= otp.MaxAttempts {
		if err := o.ledger.Delete(ctx, email); err != nil {
			return err
		}
		return ErrTooManyAttempts
	}
	if record.Code != code {
		record.Attempts++
		if err := o.ledger.Save(ctx, email, record); err != nil {
			return err
		}
		return ErrInvalidCode
	}

	principal, err := o.resolve(ctx, email)
	if err != nil {
		return err
	}

	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := o.passwords.SetPassword(ctx, principal.Role, principal.ID, hash); err != nil {
		return err
	}

	return o.ledger.Delete(ctx, email)
}

// resolve scans student, staff, admin in that fixed order; first hit
// wins.
func (o *Orchestrator) resolve(ctx context.Context, email string) (identity.Principal, error) {
	if student, err := o.dir.StudentByEmail(ctx, email); err == nil {
		return identity.StudentPrincipal(student), nil
	} else if !errors.Is(err, identity.ErrNotFound) {
		return identity.Principal{}, err
	}
	if staff, err := o.dir.StaffByEmail(ctx, email); err == nil {
		return identity.StaffPrincipal(staff), nil
	} else if !errors.Is(err, identity.ErrNotFound) {
		return identity.Principal{}, err
	}
	if admin, err := o.dir.AdminByEmail(ctx, email); err == nil {
		return identity.AdminPrincipal(admin), nil
	} else if !errors.Is(err, identity.ErrNotFound) {
		return identity.Principal{}, err
	}
	return identity.Principal{}, ErrUserNotFound
}

func (o *Orchestrator) domainAllowed(email string) bool {
	for _, suffix := range o.allowedDomains {
		if strings.HasSuffix(email, suffix) {
			return true
		}
	}
	return false
}

// generateCode draws a 6-digit code uniformly from [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
