package whatsapp

import (
	"sync"
	"time"

	"github.com/ypreiser/botgate/botengine"
	"github.com/ypreiser/botgate/domains/connection"
	"github.com/ypreiser/botgate/domains/profile"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
)

// State is the in-memory lifecycle of one WhatsApp session. The
// persisted connection.Status is derived from it, never the reverse.
type State string

const (
	StateNew                   State = "new"
	StateInitializing          State = "initializing"
	StateQRReady               State = "qr_ready"
	StateAuthenticated         State = "authenticated"
	StateConnected             State = "connected"
	StateAuthFailed            State = "auth_failed"
	StateReconnecting          State = "reconnecting"
	StateDisconnectedPermanent State = "disconnected_permanent"
	StateClosing               State = "closing"
	StateClosed                State = "closed"
)

// active reports whether the state still owns live resources. A second
// Start for the same connection is rejected while active.
func (s State) active() bool {
	switch s {
	case StateClosed, StateAuthFailed, StateDisconnectedPermanent:
		return false
	}
	return true
}

// persistedStatus maps an in-memory state to the stored status plus the
// autoReconnect value that must accompany it. A nil autoReconnect
// leaves the stored flag untouched.
func persistedStatus(s State, startupRecovery bool) (connection.Status, *bool) {
	off := false
	on := true
	switch s {
	case StateInitializing:
		if startupRecovery {
			return connection.StatusInitializingStartup, nil
		}
		return connection.StatusInitializing, nil
	case StateQRReady:
		// A QR waiting for a scan must never auto-reconnect into a
		// dead login loop after a restart.
		return connection.StatusQRPendingScan, &off
	case StateAuthenticated:
		// The scan succeeded, so recovery is safe again even if the
		// process dies before the Connected event lands.
		return connection.StatusAuthenticated, &on
	case StateConnected:
		return connection.StatusConnected, nil
	case StateAuthFailed:
		return connection.StatusAuthFailed, &off
	case StateReconnecting:
		return connection.StatusReconnecting, nil
	case StateDisconnectedPermanent:
		return connection.StatusDisconnectedPermanent, &off
	case StateClosing, StateClosed:
		return connection.StatusClosedManually, &off
	}
	return connection.StatusInitializing, nil
}

// ToolSession is the per-session tool surface, normally a
// toolpool.Pool.
type ToolSession interface {
	botengine.ToolInvoker
	Close()
}

// ToolOpener builds the tool surface when a session starts.
type ToolOpener func(servers []profile.ToolServerConfig) ToolSession

// credentialStore is the per-connection pairing store handle, kept so
// teardown can release its database connection. Normally a
// *sqlstore.Container.
type credentialStore interface {
	Close() error
}

var _ credentialStore = (*sqlstore.Container)(nil)

// Session is one live WhatsApp connection.
type Session struct {
	mu sync.Mutex

	name      string
	userID    string
	profile   *profile.BotProfile
	state     State
	attempts  int
	qrDataURL string
	startup   bool

	client    *whatsmeow.Client
	container credentialStore
	tools     ToolSession

	createdAt time.Time
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) QRDataURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qrDataURL
}
