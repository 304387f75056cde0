package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockedby/tg-lake/internal/config"
	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/celestix/gotgproto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"gorm.io/gorm"
)

// Status represents the Telegram session status.
type Status string

// Status constants define the possible states of the Telegram session.
const (
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusError        Status = "ERROR"
	StatusClosed       Status = "CLOSED"
)

// ClientFactory is a function that creates a telegram client.
type ClientFactory func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error)

// QRClientFactory is a function that creates a raw telegram client for QR auth.
type QRClientFactory func(cfg *config.Config) (*QRClientBundle, error)

// Validator checks that an acquired client is still authorized.
type Validator func(ctx context.Context, client *gotgproto.Client) error

// Session owns the authenticated MTProto client: acquire, validate,
// invalidate-and-reacquire. The stored login lives in the session database.
type Session struct {
	client *gotgproto.Client
	db     *gorm.DB
	cfg    *config.Config
	log    *logger.Logger

	status Status
	mu     sync.RWMutex

	clientFactory   ClientFactory
	qrClientFactory QRClientFactory
	validator       Validator
	stopClient      func(*gotgproto.Client)

	// QR flow state management
	qrInProgress atomic.Bool
	qrCancel     context.CancelFunc
	qrMu         sync.Mutex
}

// NewSession creates a session bound to the session database.
func NewSession(cfg *config.Config, db *gorm.DB) *Session {
	return &Session{
		db:              db,
		cfg:             cfg,
		log:             logger.Get(),
		status:          StatusInitializing,
		clientFactory:   NewPersistentClient,
		qrClientFactory: NewQRClient,
		validator:       validateSelf,
		stopClient:      (*gotgproto.Client).Stop,
	}
}

// SetClientFactory allows overriding the client creation logic (e.g. for testing).
func (s *Session) SetClientFactory(f ClientFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientFactory = f
}

// SetQRClientFactory allows overriding the QR client creation logic (e.g. for testing).
func (s *Session) SetQRClientFactory(f QRClientFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qrClientFactory = f
}

// SetValidator allows overriding the session check (e.g. for testing).
func (s *Session) SetValidator(v Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validator = v
}

// GetStatus returns the current session status.
func (s *Session) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetClient returns the underlying Telegram client, nil until acquired.
func (s *Session) GetClient() *gotgproto.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// HasStoredSession reports whether the session database holds a login.
func (s *Session) HasStoredSession() bool {
	var count int64
	if err := s.db.Table("sessions").Count(&count).Error; err != nil {
		s.log.Warn().Err(err).Msg("telegram: failed to check sessions table")
		return false
	}
	return count > 0
}

// Acquire restores the stored login and connects.
// Returns ErrUnauthorized when no login is stored; any other error is a
// connection failure that may be retried.
func (s *Session) Acquire(ctx context.Context) error {
	if s.GetClient() != nil && s.GetStatus() == StatusReady {
		return nil
	}
	s.setStatus(StatusInitializing)

	if !s.HasStoredSession() {
		s.log.Info().Msg("telegram: no session in database, run tg-auth first")
		s.setStatus(StatusUnauthorized)
		return ErrUnauthorized
	}

	s.mu.RLock()
	factory := s.clientFactory
	s.mu.RUnlock()

	client, err := factory(ctx, s.cfg, s.db)
	if err != nil {
		s.setStatus(StatusError)
		return fmt.Errorf("create telegram client: %w", classify("", err))
	}

	s.mu.Lock()
	s.client = client
	s.status = StatusReady
	s.mu.Unlock()

	s.log.Info().Msg("telegram: client is ready")
	return nil
}

// Validate checks the acquired client with a cheap authorized request.
func (s *Session) Validate(ctx context.Context) error {
	client := s.GetClient()
	if client == nil {
		return ErrUnauthorized
	}

	s.mu.RLock()
	validate := s.validator
	s.mu.RUnlock()

	if err := validate(ctx, client); err != nil {
		err = classify("", err)
		if IsAuthError(err) {
			s.setStatus(StatusUnauthorized)
		}
		return err
	}
	return nil
}

// Invalidate drops the current client; the stored login is kept.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.stopClient(s.client)
		s.client = nil
	}
	s.status = StatusUnauthorized
}

// Reacquire invalidates the client and acquires a fresh one.
func (s *Session) Reacquire(ctx context.Context) error {
	s.log.Warn().Msg("telegram: session rejected, reacquiring")
	s.Invalidate()
	return s.Acquire(ctx)
}

// IsQRInProgress returns true if a QR login flow is currently in progress.
func (s *Session) IsQRInProgress() bool {
	return s.qrInProgress.Load()
}

// StartQR starts the QR login flow.
// This function blocks until login is successful or context is canceled.
// If a QR flow is already in progress, returns an error immediately.
func (s *Session) StartQR(ctx context.Context, onQRCode func(url string)) error {
	if s.GetStatus() == StatusReady {
		return fmt.Errorf("already logged in")
	}

	s.qrMu.Lock()
	if s.qrInProgress.Load() {
		s.qrMu.Unlock()
		s.log.Info().Msg("telegram: QR flow already in progress, ignoring new request")
		return fmt.Errorf("QR login already in progress")
	}

	qrCtx, cancel := context.WithCancel(ctx)
	s.qrCancel = cancel
	s.qrInProgress.Store(true)
	s.qrMu.Unlock()

	defer func() {
		s.qrInProgress.Store(false)
		s.qrMu.Lock()
		if s.qrCancel != nil {
			s.qrCancel()
			s.qrCancel = nil
		}
		s.qrMu.Unlock()
	}()

	s.log.Info().Time("now", time.Now()).Msg("telegram: starting QR flow, creating QR client")

	s.mu.RLock()
	factory := s.qrClientFactory
	s.mu.RUnlock()

	bundle, err := factory(s.cfg)
	if err != nil {
		return fmt.Errorf("create QR client: %w", err)
	}

	var authErr error
	var sessionData *session.Data

	err = bundle.Client.Run(qrCtx, func(ctx context.Context) error {
		qr := bundle.Client.QR()
		loggedIn := qrlogin.OnLoginToken(&bundle.Dispatcher)

		_, authErr = qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			s.log.Info().Str("url", token.URL()).Msg("telegram: QR token generated")
			onQRCode(token.URL())
			return nil
		})
		if authErr != nil {
			return authErr
		}

		s.log.Info().Msg("telegram: QR auth success, capturing session")
		loader := session.Loader{Storage: bundle.Storage}
		sessionData, authErr = loader.Load(ctx)
		return authErr
	})

	if err != nil || authErr != nil {
		if errors.Is(err, context.Canceled) || errors.Is(authErr, context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("QR auth flow failed: %w", errors.Join(err, authErr))
	}

	if sessionData == nil {
		return fmt.Errorf("session data is nil after successful auth")
	}

	s.log.Info().Msg("telegram: saving session to database")
	if err := s.saveSessionToDB(sessionData); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return s.Acquire(ctx)
}

// CancelQR cancels any ongoing QR login flow.
func (s *Session) CancelQR() {
	s.qrMu.Lock()
	defer s.qrMu.Unlock()

	if s.qrCancel != nil {
		s.log.Info().Msg("telegram: canceling ongoing QR flow")
		s.qrCancel()
		s.qrCancel = nil
	}
	s.qrInProgress.Store(false)
}

// Import stores externally obtained session data, e.g. from Telegram Desktop.
func (s *Session) Import(data *session.Data) error {
	if data == nil {
		return fmt.Errorf("session data is nil")
	}
	s.log.Info().Int("dc", data.DC).Msg("telegram: importing session")
	return s.saveSessionToDB(data)
}

// saveSessionToDB upserts the single gotgproto session row.
func (s *Session) saveSessionToDB(data *session.Data) error {
	sess, err := ConvertToGotgprotoSession(data)
	if err != nil {
		return err
	}
	return s.db.Save(sess).Error
}

// Close stops the client. The session cannot be reacquired afterwards
// without a new Acquire call.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.stopClient(s.client)
		s.client = nil
	}
	s.status = StatusClosed
}

// validateSelf asks for the current user; it fails with 401 on revoked keys.
func validateSelf(ctx context.Context, client *gotgproto.Client) error {
	_, err := client.API().UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUserSelf{}})
	return err
}
