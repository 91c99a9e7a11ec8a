// Package storage holds the console's data-access contract and its two
// implementations: an ephemeral in-memory store and a relational store over
// postgres or sqlite.
package storage

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

const (
	BackendMemory   = "In-Memory"
	BackendPostgres = "PostgreSQL"
	BackendSQLite   = "SQLite"
)

// Provider is implemented by MemoryStore and SQLStore. Every consumer depends
// on this interface only; the concrete store is chosen once by Select.
type Provider interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, in UserInput) (User, error)

	ListConversations(ctx context.Context) ([]Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	CreateConversation(ctx context.Context, in ConversationInput) (Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (Conversation, error)

	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// CreateMessage stores the message and refreshes the parent conversation's
	// last message preview in the same unit of work.
	CreateMessage(ctx context.Context, in MessageInput) (Message, error)

	GetBotConfig(ctx context.Context) (BotConfig, error)
	UpdateBotConfig(ctx context.Context, in BotConfigInput) (BotConfig, error)

	ListMessageTemplates(ctx context.Context) ([]MessageTemplate, error)
	GetMessageTemplate(ctx context.Context, id string) (MessageTemplate, error)
	CreateMessageTemplate(ctx context.Context, in TemplateInput) (MessageTemplate, error)
	UpdateMessageTemplate(ctx context.Context, id string, patch TemplatePatch) (MessageTemplate, error)
	DeleteMessageTemplate(ctx context.Context, id string) (bool, error)

	ListAnalytics(ctx context.Context) ([]AnalyticsSnapshot, error)
	CreateAnalyticsEntry(ctx context.Context, in AnalyticsInput) (AnalyticsSnapshot, error)

	Backend() string
	Ping(ctx context.Context) error
	Close() error
}

func newID() string {
	return uuid.NewString()
}

// now is truncated to microseconds so values survive a postgres round trip unchanged.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// refreshedTime keeps lastMessageTime monotonic even if the wall clock steps back.
func refreshedTime(prev, at time.Time) time.Time {
	if at.Before(prev) {
		return prev
	}
	return at
}

func newUser(in UserInput, at time.Time) User {
	role := in.Role
	if role == "" {
		role = DefaultRole
	}
	return User{
		ID:           newID(),
		Username:     in.Username,
		PasswordHash: in.PasswordHash,
		Name:         in.Name,
		Role:         role,
		Avatar:       cloneString(in.Avatar),
		CreatedAt:    at,
	}
}

func newConversation(in ConversationInput, at time.Time) Conversation {
	status := in.Status
	if status == "" {
		status = StatusActive
	}
	return Conversation{
		ID:              newID(),
		CustomerName:    in.CustomerName,
		CustomerPhone:   in.CustomerPhone,
		CustomerAvatar:  cloneString(in.CustomerAvatar),
		LastMessage:     cloneString(in.LastMessage),
		LastMessageTime: at,
		Status:          status,
		IsActive:        true,
	}
}

func applyConversationPatch(c Conversation, p ConversationPatch) Conversation {
	if p.CustomerName != nil {
		c.CustomerName = *p.CustomerName
	}
	if p.CustomerPhone != nil {
		c.CustomerPhone = *p.CustomerPhone
	}
	if p.CustomerAvatar != nil {
		c.CustomerAvatar = cloneString(p.CustomerAvatar)
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	return c
}

func newMessage(in MessageInput, at time.Time) Message {
	msgType := in.MessageType
	if msgType == "" {
		msgType = MessageTypeText
	}
	return Message{
		ID:             newID(),
		ConversationID: cloneString(in.ConversationID),
		Content:        in.Content,
		IsBot:          boolOr(in.IsBot, false),
		IsUser:         boolOr(in.IsUser, true),
		Timestamp:      at,
		MessageType:    msgType,
		Metadata:       normalizeMetadata(in.Metadata),
	}
}

func newBotConfig(id string, in BotConfigInput, at time.Time) BotConfig {
	name := in.Name
	if name == "" {
		name = DefaultBotName
	}
	delay := DefaultResponseDelay
	if in.ResponseDelay != nil {
		delay = *in.ResponseDelay
	}
	if id == "" {
		id = newID()
	}
	return BotConfig{
		ID:             id,
		Name:           name,
		WelcomeMessage: in.WelcomeMessage,
		IsActive:       boolOr(in.IsActive, true),
		AutoRespond:    boolOr(in.AutoRespond, true),
		ResponseDelay:  delay,
		UpdatedAt:      at,
	}
}

func newTemplate(in TemplateInput, at time.Time) MessageTemplate {
	category := in.Category
	if category == nil {
		c := DefaultCategory
		category = &c
	}
	return MessageTemplate{
		ID:         newID(),
		Name:       in.Name,
		Content:    in.Content,
		Keywords:   cloneStrings(in.Keywords),
		Category:   cloneString(category),
		IsActive:   boolOr(in.IsActive, true),
		UsageCount: 0,
		CreatedAt:  at,
	}
}

func applyTemplatePatch(t MessageTemplate, p TemplatePatch) MessageTemplate {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Content != nil {
		t.Content = *p.Content
	}
	if p.Keywords != nil {
		t.Keywords = cloneStrings(*p.Keywords)
	}
	if p.Category != nil {
		t.Category = cloneString(p.Category)
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
	return t
}

func newAnalytics(in AnalyticsInput, at time.Time) AnalyticsSnapshot {
	date := at
	if in.Date != nil && !in.Date.IsZero() {
		date = in.Date.UTC().Truncate(time.Microsecond)
	}
	return AnalyticsSnapshot{
		ID:               newID(),
		Date:             date,
		TotalMessages:    in.TotalMessages,
		ActiveUsers:      in.ActiveUsers,
		BotResponses:     in.BotResponses,
		ResponseRate:     in.ResponseRate,
		AvgResponseTime:  in.AvgResponseTime,
		UserSatisfaction: in.UserSatisfaction,
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func normalizeMetadata(in []byte) []byte {
	if string(bytes.TrimSpace(in)) == "null" {
		return nil
	}
	return cloneRaw(in)
}

func cloneRaw(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
