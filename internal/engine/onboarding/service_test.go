package onboarding

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orgdesk/internal/engine/access"
	apperrors "orgdesk/internal/pkg/errors"
	"orgdesk/internal/platform/cache"
	"orgdesk/internal/platform/config"
	"orgdesk/internal/platform/crypto"
	"orgdesk/internal/platform/database/dbtest"
	"orgdesk/internal/platform/email"
	"orgdesk/internal/platform/models"
	"orgdesk/internal/platform/repositories"
)

func strPtr(s string) *string { return &s }

type recordingMailer struct {
	mu   sync.Mutex
	msgs []email.Message
}

func (m *recordingMailer) Enqueue(msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

type fixture struct {
	svc    *Service
	users  *repositories.UserRepository
	store  *cache.MemoryStore
	mailer *recordingMailer
	admin  *access.UserContext
	// delegate controls d2 and d3 only.
	delegate *access.UserContext
}

// Departments in o1: d1 -> d2 -> d3.
func setup(t *testing.T, cfg config.InvitationConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	db := dbtest.Open(t)

	orgs := repositories.NewOrganizationRepository(db)
	depts := repositories.NewDepartmentRepository(db)
	users := repositories.NewUserRepository(db)

	if err := orgs.Create(ctx, &models.Organization{ID: "o1", Name: "Acme"}); err != nil {
		t.Fatal(err)
	}
	for _, d := range []*models.Department{
		{ID: "d1", OrganizationID: "o1", Name: "Root"},
		{ID: "d2", OrganizationID: "o1", ParentID: strPtr("d1"), Name: "Sales"},
		{ID: "d3", OrganizationID: "o1", ParentID: strPtr("d2"), Name: "Sales EU"},
	} {
		if err := depts.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	sealer, err := crypto.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	if cfg.TTL == 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.MaxEmails == 0 {
		cfg.MaxEmails = 30
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "https://app.example.com/onboard"
	}

	mailer := &recordingMailer{}
	return &fixture{
		svc:      NewService(db, users, depts, store, sealer, crypto.NewHasher(4), mailer, cfg, nil, nil),
		users:    users,
		store:    store,
		mailer:   mailer,
		admin:    access.NewUserContext(&models.User{ID: "admin", OrganizationID: "o1", IsAdmin: true}, nil, nil),
		delegate: access.NewUserContext(&models.User{ID: "lead", OrganizationID: "o1", DepartmentID: strPtr("d2")}, []access.PermissionName{access.RegisterUser}, []string{"d2", "d3"}),
	}
}

func tokenOf(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}
	q := u.Query().Get("q")
	if q == "" {
		t.Fatalf("link %q has no token", link)
	}
	return q
}

func issueOne(t *testing.T, f *fixture, uc *access.UserContext, dept, addr string) string {
	t.Helper()
	links, err := f.svc.Issue(context.Background(), uc, IssueRequest{DepartmentID: dept, Emails: []string{addr}, Dev: true})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected one link, got %v", links)
	}
	return tokenOf(t, links[0].Link)
}

func expectLinkExpired(t *testing.T, err error) {
	t.Helper()
	if apperrors.KindOf(err) != apperrors.KindForbidden || err.Error() != errLinkExpired.Error() {
		t.Fatalf("expected %v, got %v", errLinkExpired, err)
	}
}

func TestIssueAndRedeemOnce(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	ctx := context.Background()

	token := issueOne(t, f, f.delegate, "d3", "New.Hire@Example.com")

	user, err := f.svc.Redeem(ctx, token, "correct horse")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	stored, err := f.users.GetByEmail(ctx, "new.hire@example.com")
	if err != nil || stored == nil {
		t.Fatalf("user not stored: %v", err)
	}
	if stored.ID != user.ID || stored.OrganizationID != "o1" || stored.DepartmentID == nil || *stored.DepartmentID != "d3" {
		t.Errorf("unexpected user %+v", stored)
	}
	if stored.PasswordHash == "correct horse" {
		t.Error("password stored in clear")
	}

	_, err = f.svc.Redeem(ctx, token, "correct horse")
	expectLinkExpired(t, err)
}

func TestIssueRejectsDepartmentOutsideSubtree(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	_, err := f.svc.Issue(context.Background(), f.delegate, IssueRequest{DepartmentID: "d1", Emails: []string{"a@example.com"}, Dev: true})
	if apperrors.KindOf(err) != apperrors.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestIssueRejectsUnknownDepartmentForAdmin(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	_, err := f.svc.Issue(context.Background(), f.admin, IssueRequest{DepartmentID: "nope", Emails: []string{"a@example.com"}, Dev: true})
	if apperrors.KindOf(err) != apperrors.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestIssueRejectsDuplicateEmailsBeforeStoring(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, f.admin, IssueRequest{DepartmentID: "d2", Emails: []string{"a@example.com", "b@example.com", "A@example.com"}, Dev: true})
	if apperrors.KindOf(err) != apperrors.KindBadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	for _, addr := range []string{"a@example.com", "b@example.com"} {
		if _, err := f.store.Get(ctx, recordKey(f.svc.sealer, addr)); err != cache.ErrMiss {
			t.Errorf("no record expected for %s, got %v", addr, err)
		}
	}
}

func TestIssueRejectsOversizedAndEmptyBatches(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true, MaxEmails: 2})
	ctx := context.Background()

	for name, emails := range map[string][]string{
		"empty":     nil,
		"oversized": {"a@example.com", "b@example.com", "c@example.com"},
		"invalid":   {"not-an-email"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Issue(ctx, f.admin, IssueRequest{DepartmentID: "d2", Emails: emails, Dev: true})
			if apperrors.KindOf(err) != apperrors.KindBadRequest {
				t.Fatalf("expected BadRequest, got %v", err)
			}
		})
	}
}

func TestReissueReplacesPendingInvitation(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	ctx := context.Background()

	first := issueOne(t, f, f.admin, "d2", "a@example.com")
	second := issueOne(t, f, f.admin, "d3", "a@example.com")

	_, err := f.svc.Redeem(ctx, first, "password1")
	expectLinkExpired(t, err)

	user, err := f.svc.Redeem(ctx, second, "password1")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if *user.DepartmentID != "d3" {
		t.Errorf("expected latest department, got %s", *user.DepartmentID)
	}
}

func TestRedeemRejectsTamperedAndForeignTokens(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	ctx := context.Background()
	token := issueOne(t, f, f.admin, "d2", "a@example.com")

	mid := len(token) / 2
	flipped := byte('A')
	if token[mid] == 'A' {
		flipped = 'B'
	}
	tampered := token[:mid] + string(flipped) + token[mid+1:]

	other, _ := crypto.NewSealer([]byte("ffffffffffffffffffffffffffffffff"))
	raw, _ := encodePayload(Payload{Email: "a@example.com", InvitationID: "inv_x", DepartmentID: "d2", OrgID: "o1", IssuedAt: 1})
	forged, _ := other.Seal(sealDomain, raw)

	for name, tok := range map[string]string{
		"tampered": tampered,
		"garbage":  "not-a-token",
		"empty":    "",
		"forged":   forged,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Redeem(ctx, tok, "password1")
			expectLinkExpired(t, err)
		})
	}

	// The genuine token is still usable.
	if _, err := f.svc.Redeem(ctx, token, "password1"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
}

func TestRedeemRejectsMismatchedInvitationID(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	ctx := context.Background()
	issueOne(t, f, f.admin, "d2", "a@example.com")

	raw, _ := encodePayload(Payload{Email: "a@example.com", InvitationID: "inv_other", DepartmentID: "d2", OrgID: "o1", IssuedAt: 1})
	token, err := f.svc.sealer.Seal(sealDomain, raw)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Redeem(ctx, token, "password1")
	expectLinkExpired(t, err)
}

func TestRedeemAfterExpiry(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true, TTL: 10 * time.Millisecond})
	token := issueOne(t, f, f.admin, "d2", "a@example.com")

	time.Sleep(50 * time.Millisecond)
	_, err := f.svc.Redeem(context.Background(), token, "password1")
	expectLinkExpired(t, err)
}

func TestRedeemValidatesPassword(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	token := issueOne(t, f, f.admin, "d2", "a@example.com")

	_, err := f.svc.Redeem(context.Background(), token, "short")
	if apperrors.KindOf(err) != apperrors.KindBadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	// A rejected password does not consume the invitation.
	if _, err := f.svc.Redeem(context.Background(), token, "long enough"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
}

func TestConcurrentRedeemHasOneWinner(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	token := issueOne(t, f, f.admin, "d2", "race@example.com")

	var wins, expired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Redeem(context.Background(), token, "password1")
			switch {
			case err == nil:
				wins.Add(1)
			case apperrors.KindOf(err) == apperrors.KindForbidden:
				expired.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || expired.Load() != 15 {
		t.Fatalf("wins=%d expired=%d", wins.Load(), expired.Load())
	}
}

func TestFailedEnrolmentBurnsInvitation(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: true})
	ctx := context.Background()

	if err := f.users.Create(ctx, &models.User{OrganizationID: "o1", Email: "taken@example.com", PasswordHash: "h"}); err != nil {
		t.Fatal(err)
	}
	token := issueOne(t, f, f.admin, "d2", "taken@example.com")

	_, err := f.svc.Redeem(ctx, token, "password1")
	if apperrors.KindOf(err) != apperrors.KindInternal {
		t.Fatalf("expected Internal, got %v", err)
	}
	_, err = f.svc.Redeem(ctx, token, "password1")
	expectLinkExpired(t, err)
}

func TestIssueMailsLinksOutsideDevMode(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: false})

	links, err := f.svc.Issue(context.Background(), f.admin, IssueRequest{
		DepartmentID: "d2",
		Emails:       []string{"a@example.com", "b@example.com"},
		Dev:          true,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if links != nil {
		t.Errorf("links must not be returned outside dev mode, got %v", links)
	}
	if len(f.mailer.msgs) != 2 {
		t.Fatalf("expected two emails, got %d", len(f.mailer.msgs))
	}
	msg := f.mailer.msgs[0]
	if msg.To != "a@example.com" || msg.Subject != invitationSubject || !strings.Contains(msg.HTMLBody, "https://app.example.com/onboard?q=") {
		t.Errorf("unexpected message %+v", msg)
	}
}

type failingSetStore struct {
	cache.Store
	failAt int
	sets   int
}

func (s *failingSetStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.sets++
	if s.sets == s.failAt {
		return errors.New("store unavailable")
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func TestIssueBatchIsAllOrNothing(t *testing.T) {
	f := setup(t, config.InvitationConfig{DevMode: false})
	f.svc.store = &failingSetStore{Store: f.store, failAt: 3}
	ctx := context.Background()

	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	_, err := f.svc.Issue(ctx, f.admin, IssueRequest{DepartmentID: "d2", Emails: emails})
	if apperrors.KindOf(err) != apperrors.KindInternal {
		t.Fatalf("expected Internal, got %v", err)
	}
	if len(f.mailer.msgs) != 0 {
		t.Errorf("no email may go out for a failed batch, got %d", len(f.mailer.msgs))
	}
	for _, addr := range emails {
		if _, err := f.store.Get(ctx, recordKey(f.svc.sealer, addr)); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("record for %s left behind: %v", addr, err)
		}
	}
}

func TestCreateUser(t *testing.T) {
	f := setup(t, config.InvitationConfig{})
	ctx := context.Background()

	if _, err := f.svc.CreateUser(ctx, f.delegate, "x@example.com", "password1", "d2"); apperrors.KindOf(err) != apperrors.KindForbidden {
		t.Fatalf("delegate: expected Forbidden, got %v", err)
	}
	if _, err := f.svc.CreateUser(ctx, f.admin, "x@example.com", "password1", "nope"); apperrors.KindOf(err) != apperrors.KindBadRequest {
		t.Fatalf("unknown department: expected BadRequest, got %v", err)
	}

	user, err := f.svc.CreateUser(ctx, f.admin, " X@Example.com ", "password1", "d2")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "x@example.com" || *user.DepartmentID != "d2" {
		t.Errorf("unexpected user %+v", user)
	}

	if _, err := f.svc.CreateUser(ctx, f.admin, "x@example.com", "password1", "d3"); apperrors.KindOf(err) != apperrors.KindConflict {
		t.Fatalf("duplicate: expected Conflict, got %v", err)
	}
}
