package chat

import (
	"context"
	"time"
)

type Source string

const (
	SourceWhatsApp Source = "whatsapp"
	SourceWebapp   Source = "webapp"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusPending   MessageStatus = "pending"
)

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
)

// Part is one element of a multi-modal message body.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	URL      string   `json:"url,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	Filename string   `json:"filename,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ImagePart(url, mimeType string) Part {
	return Part{Type: PartImage, URL: url, MimeType: mimeType}
}

// Valid reports whether the part has the shape required for its type.
func (p Part) Valid() bool {
	switch p.Type {
	case PartText:
		return p.Text != ""
	case PartImage, PartFile:
		return p.URL != "" && p.MimeType != ""
	default:
		return false
	}
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Attachment struct {
	URL          string    `json:"url"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Message is one entry of a chat transcript. Content or Parts carries the
// body; every message has a non-empty body or at least one attachment.
// Tool results carry ToolCallID.
type Message struct {
	ID          string        `json:"id,omitempty"`
	Role        Role          `json:"role"`
	Content     string        `json:"content,omitempty"`
	Parts       []Part        `json:"parts,omitempty"`
	ToolCalls   []ToolCall    `json:"toolCalls,omitempty"`
	ToolCallID  string        `json:"toolCallId,omitempty"`
	ToolName    string        `json:"toolName,omitempty"`
	Status      MessageStatus `json:"status,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

type Metadata struct {
	UserName       string    `json:"userName,omitempty"`
	ConnectionName string    `json:"connectionName,omitempty"`
	LastActive     time.Time `json:"lastActive"`
	IsArchived     bool      `json:"isArchived"`
	Tags           []string  `json:"tags,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

// Chat is one conversation thread. (SessionID, Source) is globally unique;
// messages are append-only.
type Chat struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	ProfileID   string    `json:"systemPromptId"`
	ProfileName string    `json:"systemPromptName"`
	Source      Source    `json:"source"`
	UserID      string    `json:"userId"`
	Messages    []Message `json:"messages,omitempty"`
	Metadata    Metadata  `json:"metadata"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Key identifies a chat for the atomic find-or-insert.
type Key struct {
	SessionID      string
	Source         Source
	UserID         string
	ConnectionName string
}

// MetadataPatch updates individual metadata fields; nil fields are left
// untouched.
type MetadataPatch struct {
	UserName   *string
	LastActive *time.Time
	IsArchived *bool
	Notes      *string
}

type IChatRepository interface {
	// Upsert finds or atomically inserts the chat for key, applying
	// defaults only on insert, and returns the current document.
	Upsert(ctx context.Context, key Key, defaults Chat) (*Chat, error)
	FindByID(ctx context.Context, id string) (*Chat, error)
	FindByKey(ctx context.Context, sessionID string, source Source) (*Chat, error)
	ListByUser(ctx context.Context, userID string) ([]Chat, error)
	ListAll(ctx context.Context) ([]Chat, error)
	AppendMessages(ctx context.Context, chatID string, messages []Message) error
	// LastMessages returns the most recent n messages in chronological order.
	LastMessages(ctx context.Context, chatID string, n int) ([]Message, error)
	SetMetadata(ctx context.Context, chatID string, patch MetadataPatch) error
}

type IChatUsecase interface {
	// List returns the caller's chats; admins see all.
	List(ctx context.Context, callerID string, isAdmin bool) ([]Chat, error)
	// Get enforces ownership; admins may read any chat.
	Get(ctx context.Context, callerID string, isAdmin bool, chatID string) (*Chat, error)
}
