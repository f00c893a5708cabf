package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/botengine"
	"github.com/ypreiser/botgate/botengine/pipeline"
	"github.com/ypreiser/botgate/botengine/toolpool"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/gateway"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/pkg/apperror"
)

// ToolSession is the per-session tool surface. Satisfied by
// toolpool.Pool; tests swap in stubs.
type ToolSession interface {
	botengine.ToolInvoker
	Close()
}

// PoolOpener builds the tool surface for a new session.
type PoolOpener func(ctx context.Context, servers []profile.ToolServerConfig) ToolSession

func defaultPoolOpener(ctx context.Context, servers []profile.ToolServerConfig) ToolSession {
	return toolpool.Open(ctx, servers)
}

type publicSession struct {
	sessionID   string
	profileID   string
	profileName string
	tools       ToolSession
	lastActive  time.Time
}

// PublicChatManager tracks anonymous web chat sessions in memory.
// Sessions do not survive a restart; their transcripts do.
type PublicChatManager struct {
	profiles    profile.IProfileRepository
	chats       chat.IChatRepository
	pipe        *pipeline.Pipeline
	openPool    PoolOpener
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*publicSession

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

func NewPublicChatManager(profiles profile.IProfileRepository, chats chat.IChatRepository, pipe *pipeline.Pipeline, openPool PoolOpener, idleTimeout time.Duration) *PublicChatManager {
	if openPool == nil {
		openPool = defaultPoolOpener
	}
	return &PublicChatManager{
		profiles:    profiles,
		chats:       chats,
		pipe:        pipe,
		openPool:    openPool,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*publicSession),
		stopJanitor: make(chan struct{}),
	}
}

// StartJanitor evicts sessions idle longer than the configured timeout.
// A zero timeout disables eviction.
func (m *PublicChatManager) StartJanitor() {
	if m.idleTimeout <= 0 {
		return
	}
	interval := m.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopJanitor:
				return
			case <-ticker.C:
				m.evictIdle()
			}
		}
	}()
}

func (m *PublicChatManager) Stop() {
	m.janitorOnce.Do(func() { close(m.stopJanitor) })

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		session.tools.Close()
		delete(m.sessions, id)
	}
}

func (m *PublicChatManager) evictIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		if session.lastActive.Before(cutoff) {
			session.tools.Close()
			delete(m.sessions, id)
			logrus.WithFields(logrus.Fields{
				"sessionId": id,
				"profile":   session.profileName,
			}).Info("[PUBLICCHAT] evicted idle session")
		}
	}
}

func (m *PublicChatManager) Start(ctx context.Context, profileID string) (*gateway.PublicSession, error) {
	prof, err := m.profiles.FindByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !prof.IsEnabled {
		return nil, apperror.ForbiddenError("this bot profile is not accepting public chats")
	}

	session := &publicSession{
		sessionID:   uuid.NewString(),
		profileID:   prof.ID,
		profileName: prof.Name,
		tools:       m.openPool(ctx, prof.ToolServers),
		lastActive:  time.Now(),
	}

	m.mu.Lock()
	m.sessions[session.sessionID] = session
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"sessionId": session.sessionID,
		"profile":   prof.Name,
	}).Info("[PUBLICCHAT] started session")

	return &gateway.PublicSession{
		SessionID:   session.sessionID,
		ProfileName: prof.Name,
	}, nil
}

func (m *PublicChatManager) Send(ctx context.Context, profileID, sessionID, text string, attachments []chat.Attachment) (*gateway.Reply, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok && session.profileID != profileID {
		ok = false
	}
	if ok {
		session.lastActive = time.Now()
	}
	m.mu.Unlock()
	if !ok {
		return nil, apperror.NotFoundError("chat session not found")
	}

	prof, err := m.profiles.FindByID(ctx, session.profileID)
	if err != nil {
		return nil, err
	}

	parts := []chat.Part{}
	if text != "" {
		parts = append(parts, chat.TextPart(text))
	}
	for _, att := range attachments {
		parts = append(parts, chat.Part{
			Type:     partTypeFor(att.MimeType),
			URL:      att.URL,
			MimeType: att.MimeType,
			Filename: att.OriginalName,
		})
	}

	out, err := m.pipe.Process(ctx, pipeline.TurnInput{
		UserID:       prof.OwnerUserID,
		ProfileID:    prof.ID,
		ProfileName:  prof.Name,
		Source:       chat.SourceWebapp,
		SessionID:    sessionID,
		SystemPrompt: prof.SystemPromptText(),
		Parts:        parts,
		Attachments:  attachments,
	}, session.tools)
	if err != nil {
		return nil, err
	}

	return &gateway.Reply{Text: out.Text, ToolCalls: out.ToolCalls}, nil
}

// End is idempotent; ending an unknown or already-ended session is a
// no-op.
func (m *PublicChatManager) End(ctx context.Context, profileID, sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok && session.profileID == profileID {
		delete(m.sessions, sessionID)
	} else {
		ok = false
	}
	m.mu.Unlock()

	if ok {
		session.tools.Close()
		logrus.WithField("sessionId", sessionID).Info("[PUBLICCHAT] ended session")
	}
}

func (m *PublicChatManager) History(ctx context.Context, profileID, sessionID string) ([]chat.Message, error) {
	conv, err := m.chats.FindByKey(ctx, sessionID, chat.SourceWebapp)
	if err != nil {
		var notFound apperror.NotFoundError
		if errors.As(err, &notFound) {
			return []chat.Message{}, nil
		}
		return nil, err
	}
	if conv.ProfileID != profileID {
		return nil, apperror.NotFoundError("chat session not found")
	}

	full, err := m.chats.FindByID(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return full.Messages, nil
}

// CloseSessionsForProfile implements SessionCloser.
func (m *PublicChatManager) CloseSessionsForProfile(_ context.Context, profileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		if session.profileID == profileID {
			session.tools.Close()
			delete(m.sessions, id)
		}
	}
}

// ActiveSessions reports the live session count, for the health surface.
func (m *PublicChatManager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func partTypeFor(mimeType string) chat.PartType {
	if len(mimeType) >= 6 && mimeType[:6] == "image/" {
		return chat.PartImage
	}
	return chat.PartFile
}
