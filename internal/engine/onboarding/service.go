package onboarding

import (
	"context"
	"database/sql"
	stderrors "errors"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/pkg/ids"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/pkg/validator"
	"orgdesk/internal/platform/audit"
	"orgdesk/internal/platform/cache"
	"orgdesk/internal/platform/config"
	"orgdesk/internal/platform/crypto"
	"orgdesk/internal/platform/email"
	"orgdesk/internal/platform/metrics"
	"orgdesk/internal/platform/models"
	"orgdesk/internal/platform/repositories"
	"orgdesk/internal/platform/telemetry"
)

const sealDomain = "invitation"

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type UserStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, user *models.User) error
	AssignDepartmentTx(ctx context.Context, tx *sql.Tx, userID, departmentID string) error
}

type DepartmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Department, error)
}

type Mailer interface {
	Enqueue(msg email.Message) error
}

// errLinkExpired is returned for every redemption failure the caller could
// use to learn token state.
var errLinkExpired = errors.Forbidden("Link expired")

type IssueRequest struct {
	DepartmentID string
	Emails       []string
	Redirect     string
	Dev          bool
}

// IssuedLink is returned instead of an email in dev mode.
type IssuedLink struct {
	Email string `json:"email"`
	Link  string `json:"link"`
}

type Service struct {
	db          TxRunner
	users       UserStore
	departments DepartmentStore
	store       cache.Store
	sealer      *crypto.Sealer
	hasher      *crypto.Hasher
	mailer      Mailer
	cfg         config.InvitationConfig
	audit       *audit.Logger
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
}

func NewService(
	db TxRunner,
	users UserStore,
	departments DepartmentStore,
	store cache.Store,
	sealer *crypto.Sealer,
	hasher *crypto.Hasher,
	mailer Mailer,
	cfg config.InvitationConfig,
	auditLog *audit.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		db:          db,
		users:       users,
		departments: departments,
		store:       store,
		sealer:      sealer,
		hasher:      hasher,
		mailer:      mailer,
		cfg:         cfg,
		audit:       auditLog,
		metrics:     m,
		log:         logger.Component("onboarding"),
		now:         time.Now,
	}
}

func recordKey(sealer *crypto.Sealer, email string) string {
	return "invite:" + sealer.LookupKey(sealDomain, email)
}

// Issue mints one invitation per address for departmentID. A new invitation
// for an address replaces any unconsumed one. Links are returned only when
// dev mode is enabled and requested; otherwise they are mailed. A batch is
// all or nothing: no link leaves the service unless every record was stored.
func (s *Service) Issue(ctx context.Context, uc *access.UserContext, req IssueRequest) ([]IssuedLink, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "onboarding.Issue")
	defer span.End()
	span.SetAttributes(attribute.String("department_id", req.DepartmentID), attribute.Int("emails", len(req.Emails)))

	if !uc.HasDepartmentAccess(req.DepartmentID) {
		s.metrics.AuthzDecision("invitation.issue", false)
		return nil, errors.Forbidden("You dont have access to department : " + req.DepartmentID)
	}
	dept, err := s.departments.GetByID(ctx, req.DepartmentID)
	if err != nil {
		return nil, errors.Internal("Failed to load department", err)
	}
	if dept == nil || dept.OrganizationID != uc.OrganizationID() {
		s.metrics.AuthzDecision("invitation.issue", false)
		return nil, errors.Forbidden("You dont have access to department : " + req.DepartmentID)
	}
	s.metrics.AuthzDecision("invitation.issue", true)

	emails, err := validator.InvitationEmails(req.Emails, s.cfg.MaxEmails)
	if err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	redirect, err := s.redirectBase(req.Redirect)
	if err != nil {
		return nil, err
	}

	dev := s.cfg.DevMode && req.Dev
	invitationID := ids.WithPrefix("inv")
	issuedAt := s.now().Unix()

	type pending struct {
		addr, key, link string
		record          []byte
	}
	batch := make([]pending, 0, len(emails))
	for _, addr := range emails {
		raw, err := encodePayload(Payload{
			Email:        addr,
			InvitationID: invitationID,
			DepartmentID: req.DepartmentID,
			OrgID:        uc.OrganizationID(),
			IssuedAt:     issuedAt,
		})
		if err != nil {
			return nil, errors.Internal("Failed to issue invitation", err)
		}
		token, err := s.sealer.Seal(sealDomain, raw)
		if err != nil {
			return nil, errors.Internal("Failed to issue invitation", err)
		}
		batch = append(batch, pending{addr: addr, key: recordKey(s.sealer, addr), link: withQuery(redirect, token), record: raw})
	}

	for i, p := range batch {
		if err := s.store.Set(ctx, p.key, p.record, s.cfg.TTL); err != nil {
			stored := make([]string, 0, i)
			for _, prev := range batch[:i] {
				stored = append(stored, prev.key)
			}
			if len(stored) > 0 {
				if derr := s.store.Delete(ctx, stored...); derr != nil {
					s.log.Error().Err(derr).Int("records", len(stored)).Msg("Withdrawing partial invitation batch failed")
				}
			}
			return nil, errors.Internal("Failed to issue invitation", err)
		}
	}

	var links []IssuedLink
	for _, p := range batch {
		s.metrics.Invitation("issued")
		if dev {
			links = append(links, IssuedLink{Email: p.addr, Link: p.link})
			continue
		}
		s.send(p.addr, p.link)
	}

	s.log.Info().
		Str("org_id", uc.OrganizationID()).
		Str("actor_id", uc.UserID()).
		Str("department_id", req.DepartmentID).
		Str("invitation_id", invitationID).
		Int("count", len(emails)).
		Bool("dev", dev).
		Msg("Invitations issued")

	s.audit.Log(ctx, audit.Entry{
		OrganizationID: uc.OrganizationID(),
		ActorID:        uc.UserID(),
		Action:         audit.ActionInvitationIssued,
		ResourceType:   "department",
		ResourceID:     req.DepartmentID,
		Metadata:       map[string]any{"invitation_id": invitationID, "emails": emails},
	})

	if !dev {
		return nil, nil
	}
	return links, nil
}

// redirectBase prefers the configured redirect over the caller's.
func (s *Service) redirectBase(requested string) (*url.URL, error) {
	base := s.cfg.RedirectURL
	if base == "" {
		base = requested
	}
	if base == "" {
		return nil, errors.BadRequest("redirect is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.BadRequest("redirect must be an absolute URL")
	}
	return u, nil
}

func withQuery(base *url.URL, token string) string {
	u := *base
	q := u.Query()
	q.Set("q", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) send(addr, link string) {
	body, err := renderInvitation(link, s.cfg.TTL.String())
	if err == nil {
		err = s.mailer.Enqueue(email.Message{To: addr, Subject: invitationSubject, HTMLBody: body})
	}
	if err != nil {
		s.metrics.Invitation("mail_failed")
		s.log.Warn().Err(err).Msg("Queueing invitation email failed")
	}
}

// Redeem consumes an invitation and creates the invited user. Tampered,
// expired, unknown and already used tokens all fail with the same error.
// The invitation is burned before the user is written and is not restored
// if that write fails.
func (s *Service) Redeem(ctx context.Context, token, password string) (*models.User, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "onboarding.Redeem")
	defer span.End()

	if err := validator.Password(password); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	plaintext, err := s.sealer.Open(sealDomain, token)
	if err != nil {
		return nil, s.reject("unsealable token")
	}
	claimed, err := decodePayload(plaintext)
	if err != nil {
		return nil, s.reject("malformed token payload")
	}

	key := recordKey(s.sealer, claimed.Email)
	raw, err := s.store.Get(ctx, key)
	if stderrors.Is(err, cache.ErrMiss) {
		return nil, s.reject("no corroborating record")
	}
	if err != nil {
		return nil, errors.Internal("Failed to redeem invitation", err)
	}
	record, err := decodePayload(raw)
	if err != nil || record.InvitationID != claimed.InvitationID || record.Email != claimed.Email {
		return nil, s.reject("invitation mismatch")
	}

	consumed, err := s.store.CompareAndDelete(ctx, key, raw)
	if err != nil {
		return nil, errors.Internal("Failed to redeem invitation", err)
	}
	if !consumed {
		return nil, s.reject("invitation already consumed")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, errors.Internal("Failed to redeem invitation", err)
	}
	user, err := s.enroll(ctx, record.OrgID, record.DepartmentID, record.Email, hash)
	if err != nil {
		s.log.Error().Err(err).
			Str("org_id", record.OrgID).
			Str("department_id", record.DepartmentID).
			Str("invitation_id", record.InvitationID).
			Msg("Enrolling invited user failed")
		return nil, errors.Internal("Failed to redeem invitation", err)
	}
	s.metrics.Invitation("redeemed")

	s.log.Info().
		Str("org_id", record.OrgID).
		Str("user_id", user.ID).
		Str("department_id", record.DepartmentID).
		Str("invitation_id", record.InvitationID).
		Msg("Invitation redeemed")

	s.audit.Log(ctx, audit.Entry{
		OrganizationID: record.OrgID,
		ActorID:        user.ID,
		Action:         audit.ActionInvitationRedeemed,
		ResourceType:   "user",
		ResourceID:     user.ID,
		Metadata:       map[string]any{"invitation_id": record.InvitationID, "department_id": record.DepartmentID},
	})
	return user, nil
}

func (s *Service) reject(reason string) error {
	s.metrics.Invitation("rejected")
	s.log.Debug().Str("reason", reason).Msg("Invitation redemption rejected")
	return errLinkExpired
}

// CreateUser enrols a user directly, bypassing the invitation handshake.
func (s *Service) CreateUser(ctx context.Context, uc *access.UserContext, rawEmail, password, departmentID string) (*models.User, error) {
	if !uc.IsAdmin() {
		return nil, errors.Forbidden("Only admins can create users")
	}
	addr, err := validator.NormalizeEmail(rawEmail)
	if err != nil {
		return nil, errors.BadRequest(err.Error())
	}
	if err := validator.Password(password); err != nil {
		return nil, errors.BadRequest(err.Error())
	}
	dept, err := s.departments.GetByID(ctx, departmentID)
	if err != nil {
		return nil, errors.Internal("Failed to load department", err)
	}
	if dept == nil || dept.OrganizationID != uc.OrganizationID() {
		return nil, errors.BadRequest("Invalid department")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, errors.Internal("Failed to create user", err)
	}
	user, err := s.enroll(ctx, uc.OrganizationID(), departmentID, addr, hash)
	if stderrors.Is(err, repositories.ErrConflict) {
		return nil, errors.Conflict("User already exists")
	}
	if err != nil {
		return nil, errors.Internal("Failed to create user", err)
	}

	s.log.Info().
		Str("org_id", uc.OrganizationID()).
		Str("actor_id", uc.UserID()).
		Str("user_id", user.ID).
		Str("department_id", departmentID).
		Msg("User created")

	s.audit.Log(ctx, audit.Entry{
		OrganizationID: uc.OrganizationID(),
		ActorID:        uc.UserID(),
		Action:         audit.ActionUserCreated,
		ResourceType:   "user",
		ResourceID:     user.ID,
		Metadata:       map[string]any{"department_id": departmentID},
	})
	return user, nil
}

// enroll creates the user and its department membership in one transaction.
func (s *Service) enroll(ctx context.Context, orgID, departmentID, addr, passwordHash string) (*models.User, error) {
	user := &models.User{
		OrganizationID: orgID,
		Email:          addr,
		PasswordHash:   passwordHash,
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.users.CreateTx(ctx, tx, user); err != nil {
			return err
		}
		return s.users.AssignDepartmentTx(ctx, tx, user.ID, departmentID)
	})
	if err != nil {
		return nil, err
	}
	user.DepartmentID = &departmentID
	return user, nil
}
