package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultWelcomeMessage = "Hello! I'm your virtual assistant. How can I help you today?"

var ErrDuplicateUsername = errors.New("username already exists")

type seedTemplate struct {
	name       string
	content    string
	keywords   []string
	category   string
	usageCount int
}

var seedTemplates = []seedTemplate{
	{
		name:       "Order Status",
		content:    "I can help you check your order status. Please provide your order number.",
		keywords:   []string{"order", "status", "track"},
		category:   "support",
		usageCount: 45,
	},
	{
		name:       "Business Hours",
		content:    "Our business hours are Monday-Friday 9AM-6PM EST. For urgent matters, please call our emergency line.",
		keywords:   []string{"hours", "time", "open"},
		category:   "general",
		usageCount: 23,
	},
	{
		name:       "Return Policy",
		content:    "You can return items within 30 days of purchase. Please visit our returns page for more details.",
		keywords:   []string{"return", "refund", "policy"},
		category:   "support",
		usageCount: 18,
	},
}

type seedConversation struct {
	name        string
	phone       string
	avatar      string
	lastMessage string
	status      string
	ago         time.Duration
}

var seedConversations = []seedConversation{
	{
		name:        "Sarah Johnson",
		phone:       "+1234567890",
		avatar:      "https://images.unsplash.com/photo-1494790108755-2616b612b786?auto=format&fit=crop&w=150&h=150",
		lastMessage: "Bot successfully handled product inquiry",
		status:      StatusActive,
		ago:         2 * time.Minute,
	},
	{
		name:        "Michael Chen",
		phone:       "+1234567891",
		avatar:      "https://images.unsplash.com/photo-1507003211169-0a1dd7228f2d?auto=format&fit=crop&w=150&h=150",
		lastMessage: "Thanks for the help!",
		status:      StatusResolved,
		ago:         5 * time.Minute,
	},
	{
		name:        "Emily Rodriguez",
		phone:       "+1234567892",
		avatar:      "https://images.unsplash.com/photo-1438761681033-6461ffad8d80?auto=format&fit=crop&w=150&h=150",
		lastMessage: "Bot escalated complex query to human agent",
		status:      StatusPending,
		ago:         12 * time.Minute,
	},
}

// userSatisfaction is stored in tenths: 48 means 4.8 out of 5.
var seedAnalytics = AnalyticsInput{
	TotalMessages:    2847,
	ActiveUsers:      1234,
	BotResponses:     892,
	ResponseRate:     94,
	AvgResponseTime:  1200,
	UserSatisfaction: 48,
}

// Bootstrap makes sure the administrator account and the bot configuration
// singleton exist. It is idempotent and safe to run on every start.
func Bootstrap(ctx context.Context, p Provider, admin UserInput) error {
	if _, err := p.GetUserByUsername(ctx, admin.Username); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("lookup admin user: %w", err)
		}
		if _, err := p.CreateUser(ctx, admin); err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
	}

	if _, err := p.GetBotConfig(ctx); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("lookup bot config: %w", err)
		}
		if _, err := p.UpdateBotConfig(ctx, BotConfigInput{WelcomeMessage: DefaultWelcomeMessage}); err != nil {
			return fmt.Errorf("create bot config: %w", err)
		}
	}
	return nil
}
