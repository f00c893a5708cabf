package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/botengine"
	"github.com/ypreiser/botgate/botengine/pipeline"
	"github.com/ypreiser/botgate/botengine/toolpool"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/connection"
	"github.com/ypreiser/botgate/domains/media"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/msgworker"
)

// dialFunc establishes the transport for a session. The production
// implementation speaks whatsmeow; tests substitute a fake.
type dialFunc func(ctx context.Context, s *Session) error

// sendFunc delivers one outbound text. The production implementation
// is Manager.sendText.
type sendFunc func(ctx context.Context, s *Session, to, text string) (string, error)

// replyPipeline is the turn processor, normally *pipeline.Pipeline.
type replyPipeline interface {
	Process(ctx context.Context, input pipeline.TurnInput, tools botengine.ToolInvoker) (*pipeline.TurnOutput, error)
}

// Manager owns every live WhatsApp session in this process.
type Manager struct {
	repo     connection.IConnectionRepository
	profiles profile.IProfileRepository
	pipe     replyPipeline
	pool     *msgworker.MessageWorkerPool
	media    media.Store
	cfg      *config.Config

	dial      dialFunc
	send      sendFunc
	openTools ToolOpener

	mu       sync.Mutex
	sessions map[string]*Session

	recoverOnce sync.Once
}

func NewManager(repo connection.IConnectionRepository, profiles profile.IProfileRepository, pipe *pipeline.Pipeline, pool *msgworker.MessageWorkerPool, mediaStore media.Store, cfg *config.Config) *Manager {
	m := &Manager{
		repo:     repo,
		profiles: profiles,
		pipe:     pipe,
		pool:     pool,
		media:    mediaStore,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
	m.dial = m.dialWhatsmeow
	m.send = m.sendText
	m.openTools = func(servers []profile.ToolServerConfig) ToolSession {
		return toolpool.Open(context.Background(), servers)
	}
	return m
}

// Start brings up a session for connectionName bound to prof. A second
// start while a session is still live is a conflict; after a terminal
// state the name can be started again.
func (m *Manager) Start(ctx context.Context, connectionName string, prof *profile.BotProfile, userID string) (connection.Status, error) {
	if connectionName == "" {
		return "", apperror.ValidationError("connectionName is required")
	}

	m.mu.Lock()
	if existing, ok := m.sessions[connectionName]; ok && existing.State().active() {
		m.mu.Unlock()
		return "", apperror.ConflictError(fmt.Sprintf("connection %q is already active", connectionName))
	}
	session := &Session{
		name:      connectionName,
		userID:    userID,
		profile:   prof,
		state:     StateNew,
		createdAt: time.Now().UTC(),
	}
	m.sessions[connectionName] = session
	m.mu.Unlock()

	if _, err := m.repo.Upsert(ctx, &connection.WhatsAppConnection{
		ConnectionName:  connectionName,
		ProfileID:       prof.ID,
		ProfileName:     prof.Name,
		UserID:          userID,
		AutoReconnect:   true,
		LastKnownStatus: connection.StatusInitializing,
	}); err != nil {
		m.removeSession(connectionName)
		return "", err
	}

	session.mu.Lock()
	session.tools = m.openTools(prof.ToolServers)
	session.mu.Unlock()

	m.setState(context.Background(), session, StateInitializing, connection.StatusPatch{})

	dial := m.dial
	go func() {
		if err := dial(context.Background(), session); err != nil {
			m.dialFailed(session, err)
		}
	}()

	return connection.StatusInitializing, nil
}

// dialFailed routes a failed dial. Credential problems park the session
// as auth_failed; anything else goes through the reconnect backoff so a
// transient outage cannot permanently disable recovery.
func (m *Manager) dialFailed(session *Session, err error) {
	logrus.WithError(err).WithField("connection", session.name).
		Error("[WHATSAPP] failed to establish session")
	if isAuthDialFailure(err) {
		m.setState(context.Background(), session, StateAuthFailed, connection.StatusPatch{})
		m.teardown(session)
		return
	}
	m.scheduleReconnect(session)
}

// QR returns the pending QR code as a PNG data URL. Only meaningful
// while the session is waiting for a scan.
func (m *Manager) QR(connectionName string) (string, error) {
	session := m.getSession(connectionName)
	if session == nil {
		return "", apperror.NotFoundError("no active session for this connection")
	}
	if session.State() != StateQRReady || session.QRDataURL() == "" {
		return "", apperror.NotFoundError("no QR code is currently available")
	}
	return session.QRDataURL(), nil
}

// Status prefers the live in-memory state and falls back to the
// persisted row for sessions not running in this process.
func (m *Manager) Status(ctx context.Context, connectionName string) (connection.Status, error) {
	if session := m.getSession(connectionName); session != nil {
		status, _ := persistedStatus(session.State(), false)
		return status, nil
	}
	row, err := m.repo.FindByName(ctx, connectionName)
	if err != nil {
		return "", err
	}
	return row.LastKnownStatus, nil
}

// Send delivers a text message through a connected session.
func (m *Manager) Send(ctx context.Context, connectionName, to, text string) (string, error) {
	session := m.getSession(connectionName)
	if session == nil {
		return "", apperror.NotFoundError("no active session for this connection")
	}
	if session.State() != StateConnected {
		return "", apperror.ConflictError("connection is not ready to send messages")
	}
	return m.send(ctx, session, to, text)
}

// Close tears the session down and marks the row closed_manually. It
// is idempotent: closing an unknown or already-closed name succeeds.
func (m *Manager) Close(ctx context.Context, connectionName string) error {
	session := m.getSession(connectionName)
	if session == nil {
		// Still flip the stored row so a restart will not resurrect it.
		err := m.repo.UpdateStatus(ctx, connectionName, connection.StatusClosedManually, connection.StatusPatch{
			AutoReconnect: boolPtr(false),
		})
		var notFound apperror.NotFoundError
		if err != nil && !errors.As(err, &notFound) {
			return err
		}
		return nil
	}

	m.setState(ctx, session, StateClosing, connection.StatusPatch{})
	// An explicit close unregisters the device pairing; a crash or
	// shutdown must not, so Logout lives here rather than in teardown.
	m.logout(ctx, session)
	m.teardown(session)
	m.setState(ctx, session, StateClosed, connection.StatusPatch{})
	m.removeSession(connectionName)

	logrus.WithField("connection", connectionName).Info("[WHATSAPP] session closed")
	return nil
}

func (m *Manager) List(ctx context.Context, userID string) ([]connection.WhatsAppConnection, error) {
	return m.repo.List(ctx, connection.Filter{UserID: userID})
}

// CloseSessionsForProfile closes every live session bound to profileID.
func (m *Manager) CloseSessionsForProfile(ctx context.Context, profileID string) {
	m.mu.Lock()
	names := make([]string, 0)
	for name, session := range m.sessions {
		if session.profile != nil && session.profile.ID == profileID {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.Close(ctx, name); err != nil {
			logrus.WithError(err).WithField("connection", name).
				Warn("[WHATSAPP] failed to close session for deleted profile")
		}
	}
}

// RecoverOnStartup restarts every connection persisted with
// autoReconnect=true. It runs at most once per process.
func (m *Manager) RecoverOnStartup(ctx context.Context) {
	m.recoverOnce.Do(func() {
		on := true
		rows, err := m.repo.List(ctx, connection.Filter{AutoReconnect: &on})
		if err != nil {
			logrus.WithError(err).Error("[WHATSAPP] startup recovery: failed to list connections")
			return
		}

		for _, row := range rows {
			if m.getSession(row.ConnectionName) != nil {
				continue
			}
			prof, err := m.profiles.FindByID(ctx, row.ProfileID)
			if err != nil {
				logrus.WithError(err).WithField("connection", row.ConnectionName).
					Warn("[WHATSAPP] startup recovery: profile no longer exists")
				continue
			}

			now := time.Now().UTC()
			session := &Session{
				name:      row.ConnectionName,
				userID:    row.UserID,
				profile:   prof,
				state:     StateNew,
				startup:   true,
				createdAt: now,
			}
			m.mu.Lock()
			m.sessions[row.ConnectionName] = session
			m.mu.Unlock()

			session.mu.Lock()
			session.tools = m.openTools(prof.ToolServers)
			session.mu.Unlock()

			m.setState(ctx, session, StateInitializing, connection.StatusPatch{
				LastAttemptedReconnect: &now,
			})

			logrus.WithField("connection", row.ConnectionName).Info("[WHATSAPP] recovering session after restart")
			s := session
			dial := m.dial
			go func() {
				if err := dial(context.Background(), s); err != nil {
					m.dialFailed(s, err)
				}
			}()
		}
	})
}

// Shutdown disconnects every session without touching autoReconnect,
// so they come back on the next boot.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		m.teardown(s)
	}
}

// scheduleReconnect applies linear backoff and redials, giving up after
// the configured attempt cap.
func (m *Manager) scheduleReconnect(session *Session) {
	session.mu.Lock()
	session.attempts++
	attempts := session.attempts
	session.mu.Unlock()

	if attempts > m.cfg.Whatsapp.MaxReconnectAttempts {
		logrus.WithField("connection", session.name).
			Warn("[WHATSAPP] reconnect attempts exhausted, giving up")
		m.setState(context.Background(), session, StateDisconnectedPermanent, connection.StatusPatch{})
		m.teardown(session)
		return
	}

	now := time.Now().UTC()
	m.setState(context.Background(), session, StateReconnecting, connection.StatusPatch{
		LastAttemptedReconnect: &now,
	})

	delay := m.cfg.Whatsapp.ReconnectBaseDelay * time.Duration(attempts)
	logrus.WithFields(logrus.Fields{
		"connection": session.name,
		"attempt":    attempts,
		"delay":      delay,
	}).Info("[WHATSAPP] scheduling reconnect")

	time.AfterFunc(delay, func() {
		if session.State() != StateReconnecting {
			return
		}
		if err := m.redial(context.Background(), session); err != nil {
			logrus.WithError(err).WithField("connection", session.name).
				Warn("[WHATSAPP] reconnect attempt failed")
			m.scheduleReconnect(session)
		}
	})
}

// setState records the transition in memory and persists the mapped
// status. Persistence failures are logged; the in-memory state is
// authoritative for a running process.
func (m *Manager) setState(ctx context.Context, session *Session, next State, patch connection.StatusPatch) {
	session.mu.Lock()
	prev := session.state
	session.state = next
	startup := session.startup
	session.mu.Unlock()

	status, autoReconnect := persistedStatus(next, startup)
	if autoReconnect != nil && patch.AutoReconnect == nil {
		patch.AutoReconnect = autoReconnect
	}

	if err := m.repo.UpdateStatus(ctx, session.name, status, patch); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"connection": session.name,
			"status":     status,
		}).Warn("[WHATSAPP] failed to persist connection status")
	}

	logrus.WithFields(logrus.Fields{
		"connection": session.name,
		"from":       prev,
		"to":         next,
	}).Debug("[WHATSAPP] state transition")
}

func (m *Manager) teardown(session *Session) {
	session.mu.Lock()
	client := session.client
	container := session.container
	tools := session.tools
	session.client = nil
	session.container = nil
	session.tools = nil
	session.qrDataURL = ""
	session.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		if err := container.Close(); err != nil {
			logrus.WithError(err).WithField("connection", session.name).
				Warn("[WHATSAPP] failed to close credential store")
		}
	}
	if tools != nil {
		tools.Close()
	}
}

func (m *Manager) getSession(name string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[name]
}

func (m *Manager) removeSession(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, name)
}

func boolPtr(b bool) *bool { return &b }
