package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-charity/auth-server/internal/mailer"
	otpdomain "github.com/go-charity/auth-server/internal/otp/domain"
	profiledomain "github.com/go-charity/auth-server/internal/profile/domain"
	"github.com/go-charity/auth-server/internal/profilesync"
	refreshdomain "github.com/go-charity/auth-server/internal/refresh/domain"
	"github.com/go-charity/auth-server/internal/security"
	userdomain "github.com/go-charity/auth-server/internal/user/domain"
)

var errStoreDown = errors.New("store unavailable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memUserRepo struct {
	mu   sync.Mutex
	byID map[string]*userdomain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: make(map[string]*userdomain.User)}
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return userdomain.ErrDuplicateEmail
		}
	}
	cp := *u
	r.byID[u.ID] = &cp
	return nil
}

func (r *memUserRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *memUserRepo) MarkEmailVerified(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.EmailVerified {
		return false, nil
	}
	u.EmailVerified = true
	return true, nil
}

func (r *memUserRepo) UnmarkEmailVerified(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.EmailVerified = false
	}
	return nil
}

type memProfileRepo struct {
	mu         sync.Mutex
	byUser     map[string]*profiledomain.StagedProfile
	failCreate error
}

func newMemProfileRepo() *memProfileRepo {
	return &memProfileRepo{byUser: make(map[string]*profiledomain.StagedProfile)}
}

func (r *memProfileRepo) Create(ctx context.Context, p *profiledomain.StagedProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	cp := *p
	r.byUser[p.UserID] = &cp
	return nil
}

func (r *memProfileRepo) GetByUserID(ctx context.Context, userID string) (*profiledomain.StagedProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byUser[userID], nil
}

// memRefreshStore keys records by the hash of their id, like the real stores.
type memRefreshStore struct {
	mu sync.Mutex
	m  map[string]refreshdomain.Record
	// stealOnDelete makes Delete report false once, as if another caller won the race.
	stealOnDelete bool
	failCreate    error
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{m: make(map[string]refreshdomain.Record)}
}

func (s *memRefreshStore) Create(ctx context.Context, r *refreshdomain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	s.m[security.HashRefreshID(r.ID)] = *r
	return nil
}

func (s *memRefreshStore) Find(ctx context.Context, id, subjectID string) (*refreshdomain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[security.HashRefreshID(id)]
	if !ok || r.SubjectID != subjectID {
		return nil, nil
	}
	return &r, nil
}

func (s *memRefreshStore) Delete(ctx context.Context, id, subjectID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := security.HashRefreshID(id)
	r, ok := s.m[key]
	if !ok || r.SubjectID != subjectID {
		return false, nil
	}
	delete(s.m, key)
	if s.stealOnDelete {
		s.stealOnDelete = false
		return false, nil
	}
	return true, nil
}

func (s *memRefreshStore) count(subjectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.m {
		if r.SubjectID == subjectID {
			n++
		}
	}
	return n
}

type memOTPStore struct {
	mu sync.Mutex
	m  map[string]otpdomain.Record
}

func newMemOTPStore() *memOTPStore {
	return &memOTPStore{m: make(map[string]otpdomain.Record)}
}

func (s *memOTPStore) Replace(ctx context.Context, rec *otpdomain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[rec.Email] = *rec
	return nil
}

func (s *memOTPStore) Find(ctx context.Context, email string) (*otpdomain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.m[email]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *memOTPStore) Delete(ctx context.Context, email, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[email]
	if !ok || r.CodeHash != codeHash {
		return false, nil
	}
	delete(s.m, email)
	return true, nil
}

func (s *memOTPStore) has(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[email]
	return ok
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []profilesync.Details
	err   error
}

func (f *fakeSyncer) Sync(ctx context.Context, creds profilesync.Credentials, d profilesync.Details) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
	return f.err
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingMailer struct{}

func (failingMailer) Send(ctx context.Context, msg mailer.Message) (mailer.Receipt, error) {
	return mailer.Receipt{Detail: "421 try later"}, mailer.ErrRejected
}

type fixture struct {
	clock    *fakeClock
	codec    *security.ClaimCodec
	users    *memUserRepo
	profiles *memProfileRepo
	refresh  *memRefreshStore
	codes    *memOTPStore
	outbox   *mailer.Outbox
	syncer   *fakeSyncer
	tokens   *TokenService
	otps     *OTPService
	accounts *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithMailer(t, nil)
}

func newFixtureWithMailer(t *testing.T, mail mailer.Dispatcher) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		users:    newMemUserRepo(),
		profiles: newMemProfileRepo(),
		refresh:  newMemRefreshStore(),
		codes:    newMemOTPStore(),
		outbox:   mailer.NewOutbox(),
		syncer:   &fakeSyncer{},
	}
	if mail == nil {
		mail = f.outbox
	}
	f.codec = security.NewTestClaimCodec(f.clock.Now)
	hasher := security.NewHasher(4)
	f.tokens = NewTokenService(f.codec, f.refresh, nil, TokenOptions{RefreshValidDays: 30, Clock: f.clock.Now})
	var err error
	f.otps, err = NewOTPService(f.tokens, f.users, f.profiles, f.codes, hasher, mail, f.syncer, nil,
		OTPOptions{MailFrom: "noreply@go-charity.org", Clock: f.clock.Now})
	if err != nil {
		t.Fatalf("NewOTPService: %v", err)
	}
	f.accounts, err = NewAccountService(f.tokens, f.users, f.profiles, hasher, nil, AccountOptions{Clock: f.clock.Now})
	if err != nil {
		t.Fatalf("NewAccountService: %v", err)
	}
	return f
}

func validDetails(email string) AccountDetails {
	return AccountDetails{
		Role:         "secondary",
		GovernmentID: "X",
		Email:        email,
		Password:     "c2VjcmV0LXBhc3N3b3Jk", // "secret-password"
		Metadata:     ProfileMetadata{FullName: "A B", Phone: "123"},
	}
}

// register creates an account and returns it with its OTP access token.
func (f *fixture) register(t *testing.T, email string) *AccountResult {
	t.Helper()
	res, err := f.accounts.CreateAccount(context.Background(), validDetails(email))
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return res
}

// otpToken signs a fresh OTP claim at the current fake time.
func (f *fixture) otpToken(t *testing.T, userID, role string, mode security.Mode) string {
	t.Helper()
	signed, err := f.codec.Sign(security.Claim{SubjectID: userID, Role: role, Mode: mode}, security.ScopeOTP, 0)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return signed.Token
}

var codeInMail = regexp.MustCompile(`<strong[^>]*>(\d{6})</strong>`)

// sentCode returns the code from the last email sent to addr.
func (f *fixture) sentCode(t *testing.T, addr string) string {
	t.Helper()
	msg, ok := f.outbox.Latest(addr)
	if !ok {
		t.Fatalf("no email sent to %s", addr)
	}
	m := codeInMail.FindStringSubmatch(msg.HTMLBody)
	if m == nil {
		t.Fatalf("no code in email body")
	}
	return m[1]
}
