// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package authtest provides in-memory collaborators for auth tests.
package authtest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

// Store is an in-memory AccountRepository, OTPRepository and RevocationStore.
// Deleting an account cascades to its passcodes and revocations.
type Store struct {
	mu          sync.Mutex
	accounts    map[ulid.ULID]*auth.Account
	otps        map[ulid.ULID]*auth.OneTimePasscode
	revocations map[string]*auth.RevocationRecord

	// Err, when set, is returned by every method.
	Err error

	// StaleExistsCheck makes ExistsByEmailOrUsername report false, as when a
	// concurrent signup commits between the pre-check and the insert.
	StaleExistsCheck bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts:    make(map[ulid.ULID]*auth.Account),
		otps:        make(map[ulid.ULID]*auth.OneTimePasscode),
		revocations: make(map[string]*auth.RevocationRecord),
	}
}

// Accounts returns the store as an AccountRepository.
func (s *Store) Accounts() auth.AccountRepository { return (*accountRepo)(s) }

// OTPs returns the store as an OTPRepository.
func (s *Store) OTPs() auth.OTPRepository { return (*otpRepo)(s) }

// Revocations returns the store as a RevocationStore.
func (s *Store) Revocations() auth.RevocationStore { return (*revocationStore)(s) }

// OTPCount returns the number of stored passcodes for an account.
func (s *Store) OTPCount(accountID ulid.ULID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.otps {
		if o.AccountID == accountID {
			n++
		}
	}
	return n
}

// RevocationCount returns the number of stored revocation records.
func (s *Store) RevocationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revocations)
}

func copyAccount(a *auth.Account) *auth.Account {
	c := *a
	return &c
}

type accountRepo Store

func (r *accountRepo) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, account.Email) || strings.EqualFold(a.Username, account.Username) {
			return auth.ErrDuplicate
		}
	}
	r.accounts[account.ID] = copyAccount(account)
	return nil
}

func (r *accountRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	a, ok := r.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return copyAccount(a), nil
}

func (r *accountRepo) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) {
			return copyAccount(a), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *accountRepo) ExistsByEmailOrUsername(_ context.Context, email, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	if r.StaleExistsCheck {
		return false, nil
	}
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) || strings.EqualFold(a.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (r *accountRepo) List(_ context.Context) ([]*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]*auth.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) > 0 })
	return out, nil
}

func (r *accountRepo) update(id ulid.ULID, fn func(*auth.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	a, ok := r.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(a)
	a.UpdatedAt = time.Now()
	return nil
}

func (r *accountRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(id, func(a *auth.Account) { a.PasswordHash = passwordHash })
}

func (r *accountRepo) UpdateRole(_ context.Context, id ulid.ULID, role auth.Role) error {
	return r.update(id, func(a *auth.Account) { a.Role = role })
}

func (r *accountRepo) MarkEmailVerified(_ context.Context, id ulid.ULID) error {
	return r.update(id, func(a *auth.Account) { a.EmailVerified = true })
}

func (r *accountRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.accounts[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.accounts, id)
	for k, o := range r.otps {
		if o.AccountID == id {
			delete(r.otps, k)
		}
	}
	for k, rec := range r.revocations {
		if rec.AccountID == id {
			delete(r.revocations, k)
		}
	}
	return nil
}

func (r *accountRepo) Stats(_ context.Context, since time.Time) (*auth.AccountStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	stats := &auth.AccountStats{ByRole: make(map[auth.Role]int)}
	for _, a := range r.accounts {
		stats.Total++
		stats.ByRole[a.Role]++
		if !a.CreatedAt.Before(since) {
			stats.RecentRegistrations++
		}
	}
	return stats, nil
}

type otpRepo Store

func (r *otpRepo) Create(_ context.Context, otp *auth.OneTimePasscode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	c := *otp
	r.otps[otp.ID] = &c
	return nil
}

func (r *otpRepo) Consume(_ context.Context, accountID ulid.ULID, codeHash string, purpose auth.Purpose, now time.Time) (*auth.OneTimePasscode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for k, o := range r.otps {
		if o.AccountID == accountID && o.CodeHash == codeHash && o.Purpose == purpose && !o.IsExpired(now) {
			delete(r.otps, k)
			return o, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *otpRepo) ListRecent(_ context.Context, limit int) ([]*auth.OneTimePasscode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]*auth.OneTimePasscode, 0, len(r.otps))
	for _, o := range r.otps {
		c := *o
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *otpRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for k, o := range r.otps {
		if o.IsExpired(now) {
			delete(r.otps, k)
			n++
		}
	}
	return n, nil
}

type revocationStore Store

func revocationKey(accountID ulid.ULID, ref string) string {
	return accountID.String() + ":" + ref
}

func (r *revocationStore) Insert(_ context.Context, rec *auth.RevocationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	key := revocationKey(rec.AccountID, rec.TokenRef)
	if existing, ok := r.revocations[key]; ok && existing.ExpiresAt.After(rec.ExpiresAt) {
		return nil
	}
	c := *rec
	r.revocations[key] = &c
	return nil
}

func (r *revocationStore) IsRevoked(_ context.Context, accountID ulid.ULID, ref string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	for _, key := range []string{revocationKey(accountID, ref), revocationKey(accountID, auth.AllSessions)} {
		if rec, ok := r.revocations[key]; ok && rec.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *revocationStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for k, rec := range r.revocations {
		if !rec.ExpiresAt.After(now) {
			delete(r.revocations, k)
			n++
		}
	}
	return n, nil
}

// Message is a notification captured by RecordingNotifier.
type Message struct {
	To      string
	Subject string
	Body    string
}

// RecordingNotifier records every message it is asked to send.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []Message

	// Err, when set, is returned from Send after recording the message.
	Err error
}

// Send records the message.
func (n *RecordingNotifier) Send(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, Message{To: to, Subject: subject, Body: body})
	return n.Err
}

// Messages returns a copy of the recorded messages.
func (n *RecordingNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}

// LastCode returns the six-digit code contained in the most recent message
// sent to addr, or "" if none.
func (n *RecordingNotifier) LastCode(addr string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.messages) - 1; i >= 0; i-- {
		m := n.messages[i]
		if !strings.EqualFold(m.To, addr) {
			continue
		}
		for _, field := range strings.Fields(m.Body) {
			field = strings.TrimRight(field, ".")
			if len(field) == 6 && strings.Trim(field, "0123456789") == "" {
				return field
			}
		}
	}
	return ""
}

// StubIdentityProvider returns a fixed identity for any code other than
// BadCode.
type StubIdentityProvider struct {
	Identity auth.ExternalIdentity
	BadCode  string
}

// ErrBadCode is returned by StubIdentityProvider for its BadCode.
var ErrBadCode = errors.New("authorization code rejected")

// Exchange returns the configured identity.
func (p *StubIdentityProvider) Exchange(_ context.Context, code string) (*auth.ExternalIdentity, error) {
	if code == p.BadCode {
		return nil, ErrBadCode
	}
	ident := p.Identity
	return &ident, nil
}
