// Package password implements the reset-token workflow: time-boxed recovery
// requests, token consumption, administrative password generation and the
// daily cleanup sweep.
package password

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"orgdir.org/internal/config"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/mailer"
	"orgdir.org/internal/obs"
	"orgdir.org/internal/validation"
)

// Reset is one pending recovery token. Tokens are opaque and single-use;
// issuing a new one does not invalidate the previous ones, cleanup does.
type Reset struct {
	ID        string
	Login     string
	Token     string
	CreatedAt time.Time
}

// Store persists reset rows in the relational database.
type Store interface {
	Create(ctx context.Context, reset *Reset) error
	// FindByLoginAndToken returns the row matching both values and created
	// after the cutoff, or nil.
	FindByLoginAndToken(ctx context.Context, login, token string, after time.Time) (*Reset, error)
	// FindRecent returns any row for the login created after the cutoff.
	FindRecent(ctx context.Context, login string, after time.Time) (*Reset, error)
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Time windows of the workflow.
const (
	// RateWindow suppresses repeated recovery requests for the same login.
	RateWindow = 5 * time.Minute
	// TokenValidity bounds how long a token can be consumed.
	TokenValidity = time.Hour
	// Retention bounds how long stale rows survive until the daily sweep.
	Retention = 24 * time.Hour
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Service drives the workflow.
type Service struct {
	users directory.UserRepository
	store Store
	mail  mailer.Sender
	cfg   *config.Values

	now      func() time.Time
	newToken func() string
}

// NewService wires the workflow. A nil sender disables notifications.
func NewService(users directory.UserRepository, store Store, mail mailer.Sender, cfg *config.Values) *Service {
	if mail == nil {
		mail = mailer.Nop{}
	}
	return &Service{
		users:    users,
		store:    store,
		mail:     mail,
		cfg:      cfg,
		now:      time.Now,
		newToken: func() string { return uuid.NewString() },
	}
}

// checkUser returns the user when it exists and is not locked, else the
// conflated unknown-id error.
func (s *Service) checkUser(ctx context.Context, uid string) (*directory.User, error) {
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if user == nil || user.IsLocked() {
		return nil, directory.ErrUnknownID
	}
	return user, nil
}

// RequestRecovery issues a reset token when the supplied mail matches one of
// the user's known addresses and no request was issued within the rate
// window. Every other case is a silent no-op so login validity is never
// disclosed. Previous tokens are kept.
func (s *Service) RequestRecovery(ctx context.Context, uid, mail string) error {
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return err
	}
	if user == nil || user.IsLocked() {
		return nil
	}
	if !user.HasMail(mail) {
		return nil
	}
	recent, err := s.store.FindRecent(ctx, user.ID, s.now().Add(-RateWindow))
	if err != nil {
		return err
	}
	if recent != nil {
		return nil
	}

	reset := &Reset{Login: user.ID, Token: s.newToken(), CreatedAt: s.now()}
	if err := s.store.Create(ctx, reset); err != nil {
		return err
	}
	s.sendResetMail(ctx, user, mail, reset.Token)
	return nil
}

// Reset consumes a token issued within the validity window and sets the new
// password. No notification is sent: the user chose the password themselves.
func (s *Service) Reset(ctx context.Context, uid, token, newPassword string) error {
	reset, err := s.store.FindByLoginAndToken(ctx, uid, token, s.now().Add(-TokenValidity))
	if err != nil {
		return err
	}
	if reset == nil {
		return directory.ErrUnknownID
	}
	if _, err := s.checkUser(ctx, uid); err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, reset.Login, newPassword); err != nil {
		return err
	}
	return s.store.Delete(ctx, reset.ID)
}

// Update is the self-service path: re-authenticate with the current
// password, then set the new one without mail.
func (s *Service) Update(ctx context.Context, login, current, newPassword string) error {
	ok, err := s.users.Authenticate(ctx, login, current)
	if err != nil {
		return err
	}
	if !ok {
		return validation.New("password", validation.ReasonLogin)
	}
	if _, err := s.checkUser(ctx, login); err != nil {
		return err
	}
	return s.users.SetPassword(ctx, login, newPassword)
}

// Generate sets a freshly generated password and mails it to the user.
// Returns the cleartext for administrative flows.
func (s *Service) Generate(ctx context.Context, uid string) (string, error) {
	pw, err := randomPassword(10)
	if err != nil {
		return "", err
	}
	return pw, s.Create(ctx, uid, pw, true)
}

// Create sets the given password. The "your password is" mail is best
// effort: the password change sticks even when delivery fails.
func (s *Service) Create(ctx context.Context, uid, password string, sendMail bool) error {
	user, err := s.checkUser(ctx, uid)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, user.ID, password); err != nil {
		return err
	}
	if sendMail {
		s.sendPasswordMail(ctx, user, password)
	}
	return nil
}

// CleanRecoveries is the daily sweep bounding stale token growth. Rows older
// than the retention window are removed regardless of consumption state.
func (s *Service) CleanRecoveries(ctx context.Context) error {
	deleted, err := s.store.DeleteOlderThan(ctx, s.now().Add(-Retention))
	if err != nil {
		return err
	}
	if deleted > 0 {
		obs.Logger().Printf(`{"level":"info","msg":"cleaned password recoveries","deleted":%d}`, deleted)
	}
	return nil
}

func (s *Service) sendResetMail(ctx context.Context, user *directory.User, mailTo, token string) {
	link := s.cfg.Get(config.KeyPublicURL) + "#reset=" + token + "/" + user.ID
	link = `<a href="` + link + `">` + link + `</a>`
	fullName := user.FullName()
	msg := mailer.Message{
		From:     s.cfg.Get(config.KeyFrom),
		FromName: s.cfg.Get(config.KeyFromTitle),
		To:       []mailer.Recipient{{Address: mailTo, Name: fullName}},
		Subject:  s.cfg.Get(config.KeyResetSubject),
		Body:     fmt.Sprintf(s.cfg.Get(config.KeyResetContent), fullName, link, fullName, link),
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"reset mail failed","login":%q}`, user.ID)
	}
}

func (s *Service) sendPasswordMail(ctx context.Context, user *directory.User, password string) {
	url := s.cfg.Get(config.KeyPublicURL)
	link := `<a href="` + url + `">` + url + `</a>`
	fullName := user.FullName()
	to := make([]mailer.Recipient, 0, len(user.Mails))
	for _, m := range user.Mails {
		to = append(to, mailer.Recipient{Address: m, Name: fullName})
	}
	msg := mailer.Message{
		From:     s.cfg.Get(config.KeyFrom),
		FromName: s.cfg.Get(config.KeyFromTitle),
		To:       to,
		Subject:  fmt.Sprintf(s.cfg.Get(config.KeyNewSubject), fullName),
		Body: fmt.Sprintf(s.cfg.Get(config.KeyNewContent),
			fullName, user.ID, password, link, fullName, user.ID, password, link),
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"password mail failed","login":%q}`, user.ID)
	}
}

func randomPassword(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("password: generate: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
