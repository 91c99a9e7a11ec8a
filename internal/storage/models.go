package storage

import (
	"encoding/json"
	"time"
)

const (
	StatusActive   = "active"
	StatusPending  = "pending"
	StatusResolved = "resolved"

	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeFile     = "file"
	MessageTypeTemplate = "template"

	DefaultBotName       = "Customer Support Bot"
	DefaultResponseDelay = 1000
	DefaultCategory      = "general"
	DefaultRole          = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Avatar       *string   `json:"avatar"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserInput carries an already hashed credential; hashing belongs to the auth layer.
type UserInput struct {
	Username     string
	PasswordHash string
	Name         string
	Role         string
	Avatar       *string
}

type Conversation struct {
	ID              string    `json:"id"`
	CustomerName    string    `json:"customerName"`
	CustomerPhone   string    `json:"customerPhone"`
	CustomerAvatar  *string   `json:"customerAvatar"`
	LastMessage     *string   `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	Status          string    `json:"status"`
	IsActive        bool      `json:"isActive"`
}

type ConversationInput struct {
	CustomerName   string
	CustomerPhone  string
	CustomerAvatar *string
	LastMessage    *string
	Status         string
}

// ConversationPatch updates only the non-nil fields.
type ConversationPatch struct {
	CustomerName   *string
	CustomerPhone  *string
	CustomerAvatar *string
	Status         *string
	IsActive       *bool
}

type Message struct {
	ID             string          `json:"id"`
	ConversationID *string         `json:"conversationId"`
	Content        string          `json:"content"`
	IsBot          bool            `json:"isBot"`
	IsUser         bool            `json:"isUser"`
	Timestamp      time.Time       `json:"timestamp"`
	MessageType    string          `json:"messageType"`
	Metadata       json.RawMessage `json:"metadata"`
}

type MessageInput struct {
	ConversationID *string
	Content        string
	IsBot          *bool
	IsUser         *bool
	MessageType    string
	Metadata       json.RawMessage
}

type BotConfig struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	WelcomeMessage string    `json:"welcomeMessage"`
	IsActive       bool      `json:"isActive"`
	AutoRespond    bool      `json:"autoRespond"`
	ResponseDelay  int       `json:"responseDelay"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type BotConfigInput struct {
	Name           string
	WelcomeMessage string
	IsActive       *bool
	AutoRespond    *bool
	ResponseDelay  *int
}

// ResponseDelayDuration converts the millisecond setting into a time.Duration.
func (c BotConfig) ResponseDelayDuration() time.Duration {
	if c.ResponseDelay <= 0 {
		return 0
	}
	return time.Duration(c.ResponseDelay) * time.Millisecond
}

type MessageTemplate struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	Keywords   []string  `json:"keywords"`
	Category   *string   `json:"category"`
	IsActive   bool      `json:"isActive"`
	UsageCount int       `json:"usageCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

type TemplateInput struct {
	Name     string
	Content  string
	Keywords []string
	Category *string
	IsActive *bool
}

// TemplatePatch updates only the non-nil fields. Keywords are replaced as a
// whole when non-nil.
type TemplatePatch struct {
	Name     *string
	Content  *string
	Keywords *[]string
	Category *string
	IsActive *bool
}

type AnalyticsSnapshot struct {
	ID               string    `json:"id"`
	Date             time.Time `json:"date"`
	TotalMessages    int       `json:"totalMessages"`
	ActiveUsers      int       `json:"activeUsers"`
	BotResponses     int       `json:"botResponses"`
	ResponseRate     int       `json:"responseRate"`
	AvgResponseTime  int       `json:"avgResponseTime"`
	UserSatisfaction int       `json:"userSatisfaction"`
}

type AnalyticsInput struct {
	Date             *time.Time
	TotalMessages    int
	ActiveUsers      int
	BotResponses     int
	ResponseRate     int
	AvgResponseTime  int
	UserSatisfaction int
}
