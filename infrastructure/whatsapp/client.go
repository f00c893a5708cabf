package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"github.com/ypreiser/botgate/botengine/pipeline"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/connection"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/msgworker"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	unsupportedMediaReply = "Sorry, I can only process text and images right now."
	pipelineFailureReply  = "Sorry, something went wrong while processing your message. Please try again in a moment."
)

// isAuthDialFailure reports whether a dial error means the stored
// credentials are unusable, as opposed to a transient transport fault.
func isAuthDialFailure(err error) bool {
	return errors.Is(err, whatsmeow.ErrNotLoggedIn) ||
		errors.Is(err, whatsmeow.ErrQRStoreContainsID)
}

// dialWhatsmeow opens the per-connection credential store and connects
// the client, surfacing a QR code when the device is not yet paired.
func (m *Manager) dialWhatsmeow(ctx context.Context, session *Session) error {
	dbURI := fmt.Sprintf("file:%s/wa-session-%s.db?_foreign_keys=on", m.cfg.Paths.Storages, session.name)
	container, err := sqlstore.New(ctx, "sqlite3", dbURI, waLog.Stdout("WA-DB", m.cfg.Whatsapp.LogLevel, true))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	// GetFirstDevice hands back a fresh device when none is stored yet.
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("WA", m.cfg.Whatsapp.LogLevel, true))
	// Reconnects are driven by scheduleReconnect so the backoff and the
	// persisted status stay in step.
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true
	client.AddEventHandler(func(rawEvt interface{}) {
		m.handleEvent(session, rawEvt)
	})

	session.mu.Lock()
	session.client = client
	session.container = container
	session.mu.Unlock()

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return fmt.Errorf("qr channel: %w", err)
		}
		if qrChan != nil {
			go m.consumeQRChannel(session, qrChan)
		}
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// logout unregisters the device pairing. Best-effort: a failure is
// logged and teardown still proceeds.
func (m *Manager) logout(ctx context.Context, session *Session) {
	session.mu.Lock()
	client := session.client
	session.mu.Unlock()
	if client == nil || client.Store.ID == nil {
		return
	}
	if err := client.Logout(ctx); err != nil {
		logrus.WithError(err).WithField("connection", session.name).
			Warn("[WHATSAPP] logout failed during close")
	}
}

// redial reuses the existing client when possible.
func (m *Manager) redial(ctx context.Context, session *Session) error {
	session.mu.Lock()
	client := session.client
	session.mu.Unlock()

	if client == nil {
		return m.dial(ctx, session)
	}
	client.Disconnect()
	return client.Connect()
}

func (m *Manager) consumeQRChannel(session *Session, qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			png, err := qrcode.Encode(evt.Code, qrcode.Medium, 512)
			if err != nil {
				logrus.WithError(err).WithField("connection", session.name).
					Error("[WHATSAPP] failed to render QR code")
				continue
			}
			session.mu.Lock()
			session.qrDataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
			session.mu.Unlock()
			m.setState(context.Background(), session, StateQRReady, connection.StatusPatch{})
		case "success":
			session.mu.Lock()
			session.qrDataURL = ""
			session.mu.Unlock()
		case "timeout":
			logrus.WithField("connection", session.name).Warn("[WHATSAPP] QR scan timed out")
			m.setState(context.Background(), session, StateAuthFailed, connection.StatusPatch{})
			m.teardown(session)
		}
	}
}

func (m *Manager) handleEvent(session *Session, rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		session.mu.Lock()
		session.qrDataURL = ""
		session.mu.Unlock()
		m.setState(context.Background(), session, StateAuthenticated, connection.StatusPatch{})
	case *events.Connected:
		now := time.Now().UTC()
		patch := connection.StatusPatch{LastConnectedAt: &now, AutoReconnect: boolPtr(true)}
		session.mu.Lock()
		session.attempts = 0
		if session.client != nil && session.client.Store.ID != nil {
			phone := session.client.Store.ID.User
			patch.PhoneNumber = &phone
		}
		session.mu.Unlock()
		m.setState(context.Background(), session, StateConnected, patch)
	case *events.LoggedOut:
		logrus.WithField("connection", session.name).Warn("[WHATSAPP] device was logged out remotely")
		m.setState(context.Background(), session, StateAuthFailed, connection.StatusPatch{})
		m.teardown(session)
	case *events.StreamReplaced:
		logrus.WithField("connection", session.name).Warn("[WHATSAPP] stream replaced by another client")
		m.setState(context.Background(), session, StateDisconnectedPermanent, connection.StatusPatch{})
		m.teardown(session)
	case *events.Disconnected:
		if !session.State().active() || session.State() == StateClosing {
			return
		}
		m.scheduleReconnect(session)
	case *events.Message:
		m.handleInboundMessage(session, evt)
	}
}

// handleInboundMessage routes one user message through the reply
// pipeline on the shared worker pool, keyed by chat so turns for one
// conversation stay ordered.
func (m *Manager) handleInboundMessage(session *Session, evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	chatJID := evt.Info.Chat.String()
	if evt.Info.Chat.Server == types.GroupServer || strings.HasSuffix(chatJID, "@broadcast") {
		return
	}
	if session.State() != StateConnected {
		return
	}

	pushName := evt.Info.PushName
	dispatched := m.pool.TryDispatch(msgworker.MessageJob{
		Source:    string(chat.SourceWhatsApp),
		SessionID: chatJID,
		Handler: func(ctx context.Context) error {
			return m.processInbound(ctx, session, evt, chatJID, pushName)
		},
	})
	if !dispatched {
		logrus.WithField("connection", session.name).
			Warn("[WHATSAPP] worker queue full, dropping inbound message")
	}
}

func (m *Manager) processInbound(ctx context.Context, session *Session, evt *events.Message, chatJID, pushName string) error {
	parts, aborted := m.extractParts(ctx, session, evt)
	if aborted {
		if _, err := m.send(ctx, session, chatJID, unsupportedMediaReply); err != nil {
			logrus.WithError(err).WithField("connection", session.name).
				Warn("[WHATSAPP] failed to send unsupported-media notice")
		}
		return nil
	}
	if len(parts) == 0 {
		return nil
	}

	session.mu.Lock()
	prof := session.profile
	tools := session.tools
	session.mu.Unlock()
	if prof == nil {
		return nil
	}

	out, err := m.pipe.Process(ctx, pipeline.TurnInput{
		UserID:         session.userID,
		ProfileID:      prof.ID,
		ProfileName:    prof.Name,
		Source:         chat.SourceWhatsApp,
		SessionID:      chatJID,
		ConnectionName: session.name,
		UserName:       pushName,
		SystemPrompt:   prof.SystemPromptText(),
		Parts:          parts,
	}, tools)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"connection": session.name,
			"chat":       chatJID,
		}).Error("[WHATSAPP] pipeline failed for inbound message")
		// The sender still deserves an answer when the reply cannot be
		// produced.
		if _, sendErr := m.send(ctx, session, chatJID, pipelineFailureReply); sendErr != nil {
			logrus.WithError(sendErr).WithField("connection", session.name).
				Warn("[WHATSAPP] failed to deliver failure notice")
		}
		return err
	}

	if _, err := m.send(ctx, session, chatJID, out.Text); err != nil {
		logrus.WithError(err).WithField("connection", session.name).
			Error("[WHATSAPP] failed to deliver reply")
		return err
	}
	return nil
}

// extractParts converts an inbound message into pipeline parts.
// aborted=true means the message carried media this bot cannot handle
// and the sender should be told so instead of getting an AI reply.
func (m *Manager) extractParts(ctx context.Context, session *Session, evt *events.Message) (parts []chat.Part, aborted bool) {
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}

	if img := evt.Message.GetImageMessage(); img != nil {
		part, err := m.downloadImage(ctx, session, img)
		if err != nil {
			logrus.WithError(err).WithField("connection", session.name).
				Warn("[WHATSAPP] failed to download inbound image")
			return nil, true
		}
		parts = append(parts, part)
		if caption := img.GetCaption(); caption != "" {
			text = caption
		}
	}

	if evt.Message.GetAudioMessage() != nil ||
		evt.Message.GetVideoMessage() != nil ||
		evt.Message.GetDocumentMessage() != nil ||
		evt.Message.GetStickerMessage() != nil {
		return nil, true
	}

	if text != "" {
		parts = append(parts, chat.TextPart(text))
	}
	return parts, false
}

func (m *Manager) downloadImage(ctx context.Context, session *Session, img *waE2E.ImageMessage) (chat.Part, error) {
	session.mu.Lock()
	client := session.client
	session.mu.Unlock()
	if client == nil {
		return chat.Part{}, errors.New("client is gone")
	}
	if img.GetFileLength() > uint64(m.cfg.Whatsapp.MaxDownloadSize) {
		return chat.Part{}, fmt.Errorf("image exceeds download limit (%d bytes)", img.GetFileLength())
	}

	data, err := client.Download(ctx, img)
	if err != nil {
		return chat.Part{}, fmt.Errorf("download: %w", err)
	}

	mimeType := img.GetMimetype()
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	stored, err := m.media.Save(ctx, "whatsapp-image", mimeType, bytes.NewReader(data))
	if err != nil {
		return chat.Part{}, fmt.Errorf("store image: %w", err)
	}
	return chat.ImagePart(stored.URL, stored.MimeType), nil
}

func (m *Manager) sendText(ctx context.Context, session *Session, to, text string) (string, error) {
	session.mu.Lock()
	client := session.client
	session.mu.Unlock()
	if client == nil {
		return "", apperror.ConflictError("connection is not ready to send messages")
	}

	jid, err := types.ParseJID(to)
	if err != nil {
		return "", apperror.ValidationError("invalid recipient JID")
	}

	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}
