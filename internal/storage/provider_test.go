package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"chatdesk/internal/config"
)

func openTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "chatdesk.db")
	store, err := OpenSQL(context.Background(), "sqlite", dsn, true)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// postgresTestDSNEnv names a disposable database; its tables are truncated
// before every test.
const postgresTestDSNEnv = "CHATDESK_TEST_POSTGRES_DSN"

func openTestPostgres(t *testing.T) *SQLStore {
	t.Helper()
	dsn := os.Getenv(postgresTestDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresTestDSNEnv)
	}
	ctx := context.Background()
	store, err := OpenSQL(ctx, "postgres", dsn, true)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.db.ExecContext(ctx,
		"TRUNCATE users, conversations, messages, bot_config, message_templates, analytics"); err != nil {
		t.Fatalf("truncate postgres tables: %v", err)
	}
	return store
}

// forEachProvider runs the same behavioural checks against every backend,
// each starting from an empty store. Postgres joins when its DSN is set.
func forEachProvider(t *testing.T, fn func(t *testing.T, p Provider)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newEmptyMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, openTestSQLite(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, openTestPostgres(t))
	})
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }

func TestCreateConversationDefaults(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		c, err := p.CreateConversation(ctx, ConversationInput{CustomerName: "Ana", CustomerPhone: "+100"})
		if err != nil {
			t.Fatalf("create conversation: %v", err)
		}
		if c.ID == "" {
			t.Fatalf("expected id to be assigned")
		}
		if c.Status != StatusActive || !c.IsActive {
			t.Fatalf("expected active defaults, got status=%q isActive=%v", c.Status, c.IsActive)
		}
		if c.LastMessage != nil {
			t.Fatalf("expected no last message, got %q", *c.LastMessage)
		}

		got, err := p.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if got.CustomerName != "Ana" || got.Status != StatusActive || !got.LastMessageTime.Equal(c.LastMessageTime) {
			t.Fatalf("stored conversation differs: %+v vs %+v", got, c)
		}
	})
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		if _, err := p.GetConversation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("conversation: expected ErrNotFound, got %v", err)
		}
		if _, err := p.GetMessageTemplate(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("template: expected ErrNotFound, got %v", err)
		}
		if _, err := p.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("user: expected ErrNotFound, got %v", err)
		}
		if _, err := p.GetBotConfig(ctx); !errors.Is(err, ErrNotFound) {
			t.Fatalf("bot config: expected ErrNotFound, got %v", err)
		}
		if _, err := p.UpdateConversation(ctx, "missing", ConversationPatch{Status: strPtr(StatusResolved)}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("update conversation: expected ErrNotFound, got %v", err)
		}
		if _, err := p.UpdateMessageTemplate(ctx, "missing", TemplatePatch{Name: strPtr("x")}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("update template: expected ErrNotFound, got %v", err)
		}
	})
}

func TestCreateMessageRefreshesConversation(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		c, err := p.CreateConversation(ctx, ConversationInput{CustomerName: "Ana", CustomerPhone: "+100"})
		if err != nil {
			t.Fatalf("create conversation: %v", err)
		}

		m, err := p.CreateMessage(ctx, MessageInput{
			ConversationID: &c.ID,
			Content:        "where is my order?",
			Metadata:       []byte(`{"source":"web"}`),
		})
		if err != nil {
			t.Fatalf("create message: %v", err)
		}
		if m.IsBot || !m.IsUser || m.MessageType != MessageTypeText {
			t.Fatalf("unexpected message defaults: %+v", m)
		}

		got, err := p.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if got.LastMessage == nil || *got.LastMessage != "where is my order?" {
			t.Fatalf("expected last message to be refreshed, got %v", got.LastMessage)
		}
		if got.LastMessageTime.Before(c.LastMessageTime) {
			t.Fatalf("lastMessageTime moved backwards: %s < %s", got.LastMessageTime, c.LastMessageTime)
		}

		list, err := p.ListMessages(ctx, c.ID)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		if len(list) != 1 || list[0].ID != m.ID {
			t.Fatalf("expected the created message, got %+v", list)
		}

		var meta map[string]string
		if err := json.Unmarshal(list[0].Metadata, &meta); err != nil {
			t.Fatalf("decode metadata: %v", err)
		}
		if meta["source"] != "web" {
			t.Fatalf("metadata not preserved: %s", list[0].Metadata)
		}
	})
}

func TestCreateMessageWithoutConversationIsStored(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		m, err := p.CreateMessage(ctx, MessageInput{ConversationID: strPtr("ghost"), Content: "hello"})
		if err != nil {
			t.Fatalf("create orphan message: %v", err)
		}
		list, err := p.ListMessages(ctx, "ghost")
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		if len(list) != 1 || list[0].ID != m.ID {
			t.Fatalf("expected orphan message to be listed, got %+v", list)
		}
	})
}

func TestListMessagesAscending(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		c, err := p.CreateConversation(ctx, ConversationInput{CustomerName: "Ana", CustomerPhone: "+100"})
		if err != nil {
			t.Fatalf("create conversation: %v", err)
		}
		for _, content := range []string{"one", "two", "three"} {
			if _, err := p.CreateMessage(ctx, MessageInput{ConversationID: &c.ID, Content: content}); err != nil {
				t.Fatalf("create message %q: %v", content, err)
			}
			time.Sleep(2 * time.Millisecond)
		}
		list, err := p.ListMessages(ctx, c.ID)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(list))
		}
		for i, want := range []string{"one", "two", "three"} {
			if list[i].Content != want {
				t.Fatalf("message %d: expected %q, got %q", i, want, list[i].Content)
			}
		}
	})
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		ids := make([]string, 0, 3)
		for _, name := range []string{"first", "second", "third"} {
			c, err := p.CreateConversation(ctx, ConversationInput{CustomerName: name, CustomerPhone: "+1"})
			if err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
			ids = append(ids, c.ID)
			time.Sleep(2 * time.Millisecond)
		}
		// A new message moves the oldest conversation to the top.
		if _, err := p.CreateMessage(ctx, MessageInput{ConversationID: &ids[0], Content: "bump"}); err != nil {
			t.Fatalf("create message: %v", err)
		}

		list, err := p.ListConversations(ctx)
		if err != nil {
			t.Fatalf("list conversations: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 conversations, got %d", len(list))
		}
		if list[0].ID != ids[0] {
			t.Fatalf("expected bumped conversation first, got %s", list[0].CustomerName)
		}
		for i := 1; i < len(list); i++ {
			if list[i].LastMessageTime.After(list[i-1].LastMessageTime) {
				t.Fatalf("conversations not sorted descending at %d", i)
			}
		}
	})
}

func TestUpdateConversationPatch(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		c, err := p.CreateConversation(ctx, ConversationInput{CustomerName: "Ana", CustomerPhone: "+100"})
		if err != nil {
			t.Fatalf("create conversation: %v", err)
		}
		updated, err := p.UpdateConversation(ctx, c.ID, ConversationPatch{
			Status:   strPtr(StatusResolved),
			IsActive: boolPtr(false),
		})
		if err != nil {
			t.Fatalf("update conversation: %v", err)
		}
		if updated.Status != StatusResolved || updated.IsActive || updated.CustomerName != "Ana" {
			t.Fatalf("unexpected patched conversation: %+v", updated)
		}
		got, err := p.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if got.Status != StatusResolved || got.IsActive {
			t.Fatalf("patch not persisted: %+v", got)
		}
	})
}

func TestBotConfigUpsertKeepsID(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		first, err := p.UpdateBotConfig(ctx, BotConfigInput{WelcomeMessage: "hi"})
		if err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if first.Name != DefaultBotName || first.ResponseDelay != DefaultResponseDelay || !first.IsActive || !first.AutoRespond {
			t.Fatalf("expected defaults, got %+v", first)
		}

		second, err := p.UpdateBotConfig(ctx, BotConfigInput{
			Name:           "Night Bot",
			WelcomeMessage: "good evening",
			AutoRespond:    boolPtr(false),
			ResponseDelay:  intPtr(0),
		})
		if err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		if second.ID != first.ID {
			t.Fatalf("expected id %s to be kept, got %s", first.ID, second.ID)
		}
		if second.AutoRespond || second.ResponseDelay != 0 || second.Name != "Night Bot" {
			t.Fatalf("update not applied: %+v", second)
		}

		got, err := p.GetBotConfig(ctx)
		if err != nil {
			t.Fatalf("get bot config: %v", err)
		}
		if got.ID != first.ID || got.WelcomeMessage != "good evening" {
			t.Fatalf("unexpected stored config: %+v", got)
		}
	})
}

func TestTemplateLifecycle(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		tpl, err := p.CreateMessageTemplate(ctx, TemplateInput{
			Name:     "Greeting",
			Content:  "Hi {{customer_name}}",
			Keywords: []string{"hi", "hello"},
		})
		if err != nil {
			t.Fatalf("create template: %v", err)
		}
		if tpl.UsageCount != 0 || !tpl.IsActive || tpl.Category == nil || *tpl.Category != DefaultCategory {
			t.Fatalf("unexpected template defaults: %+v", tpl)
		}

		updated, err := p.UpdateMessageTemplate(ctx, tpl.ID, TemplatePatch{
			Keywords: &[]string{"hey"},
			IsActive: boolPtr(false),
		})
		if err != nil {
			t.Fatalf("update template: %v", err)
		}
		if updated.Name != "Greeting" || updated.IsActive || len(updated.Keywords) != 1 || updated.Keywords[0] != "hey" {
			t.Fatalf("unexpected patched template: %+v", updated)
		}

		got, err := p.GetMessageTemplate(ctx, tpl.ID)
		if err != nil {
			t.Fatalf("get template: %v", err)
		}
		if len(got.Keywords) != 1 || got.Keywords[0] != "hey" || got.IsActive {
			t.Fatalf("patch not persisted: %+v", got)
		}

		removed, err := p.DeleteMessageTemplate(ctx, tpl.ID)
		if err != nil || !removed {
			t.Fatalf("expected delete to report true, got %v err=%v", removed, err)
		}
		if _, err := p.GetMessageTemplate(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		removed, err = p.DeleteMessageTemplate(ctx, tpl.ID)
		if err != nil || removed {
			t.Fatalf("expected second delete to report false, got %v err=%v", removed, err)
		}
	})
}

func TestTemplateWithoutKeywords(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		tpl, err := p.CreateMessageTemplate(ctx, TemplateInput{Name: "Plain", Content: "hello"})
		if err != nil {
			t.Fatalf("create template: %v", err)
		}
		got, err := p.GetMessageTemplate(ctx, tpl.ID)
		if err != nil {
			t.Fatalf("get template: %v", err)
		}
		if got.Keywords != nil {
			t.Fatalf("expected nil keywords, got %#v", got.Keywords)
		}
	})
}

func TestListTemplatesNewestFirst(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		for _, name := range []string{"a", "b", "c"} {
			if _, err := p.CreateMessageTemplate(ctx, TemplateInput{Name: name, Content: name}); err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
			time.Sleep(2 * time.Millisecond)
		}
		list, err := p.ListMessageTemplates(ctx)
		if err != nil {
			t.Fatalf("list templates: %v", err)
		}
		if len(list) != 3 || list[0].Name != "c" || list[2].Name != "a" {
			t.Fatalf("unexpected order: %+v", list)
		}
	})
}

func TestAnalyticsLatestFirst(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		newer := older.Add(24 * time.Hour)
		if _, err := p.CreateAnalyticsEntry(ctx, AnalyticsInput{Date: &older, TotalMessages: 1}); err != nil {
			t.Fatalf("create older: %v", err)
		}
		if _, err := p.CreateAnalyticsEntry(ctx, AnalyticsInput{Date: &newer, TotalMessages: 2}); err != nil {
			t.Fatalf("create newer: %v", err)
		}
		list, err := p.ListAnalytics(ctx)
		if err != nil {
			t.Fatalf("list analytics: %v", err)
		}
		if len(list) != 2 || list[0].TotalMessages != 2 || !list[0].Date.Equal(newer) {
			t.Fatalf("unexpected analytics order: %+v", list)
		}
	})
}

func TestUserByUsername(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		u, err := p.CreateUser(ctx, UserInput{Username: "ops", PasswordHash: "hash", Name: "Ops"})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		if u.Role != DefaultRole {
			t.Fatalf("expected default role, got %q", u.Role)
		}
		got, err := p.GetUserByUsername(ctx, "ops")
		if err != nil {
			t.Fatalf("get by username: %v", err)
		}
		if got.ID != u.ID || got.PasswordHash != "hash" {
			t.Fatalf("unexpected user: %+v", got)
		}
	})
}

func TestBootstrapIsIdempotent(t *testing.T) {
	forEachProvider(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		admin := UserInput{Username: "admin", PasswordHash: "hash", Name: "John Smith"}
		if err := Bootstrap(ctx, p, admin); err != nil {
			t.Fatalf("first bootstrap: %v", err)
		}
		cfg, err := p.GetBotConfig(ctx)
		if err != nil {
			t.Fatalf("get bot config: %v", err)
		}
		if err := Bootstrap(ctx, p, admin); err != nil {
			t.Fatalf("second bootstrap: %v", err)
		}
		again, err := p.GetBotConfig(ctx)
		if err != nil {
			t.Fatalf("get bot config again: %v", err)
		}
		if again.ID != cfg.ID || again.WelcomeMessage != DefaultWelcomeMessage {
			t.Fatalf("bootstrap replaced the config: %+v vs %+v", again, cfg)
		}
		if _, err := p.GetUserByUsername(ctx, "admin"); err != nil {
			t.Fatalf("admin not created: %v", err)
		}
	})
}

func TestMemoryStoreSeed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 3 || convs[0].CustomerName != "Sarah Johnson" || convs[2].CustomerName != "Emily Rodriguez" {
		t.Fatalf("unexpected seeded conversations: %+v", convs)
	}

	templates, err := s.ListMessageTemplates(ctx)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(templates) != 3 || templates[0].Name != "Order Status" || templates[0].UsageCount != 45 {
		t.Fatalf("unexpected seeded templates: %+v", templates)
	}

	if _, err := s.GetBotConfig(ctx); err != nil {
		t.Fatalf("seeded bot config missing: %v", err)
	}
	if s.Backend() != BackendMemory {
		t.Fatalf("unexpected backend %q", s.Backend())
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := newEmptyMemoryStore()
	ctx := context.Background()
	tpl, err := s.CreateMessageTemplate(ctx, TemplateInput{Name: "a", Content: "b", Keywords: []string{"x"}})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	tpl.Keywords[0] = "mutated"

	got, err := s.GetMessageTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if got.Keywords[0] != "x" {
		t.Fatalf("caller mutation leaked into the store: %v", got.Keywords)
	}
}

func TestMemoryStoreLastMessageTimeMonotonic(t *testing.T) {
	s := newEmptyMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	s.clock = func() time.Time { return base }

	c, err := s.CreateConversation(ctx, ConversationInput{CustomerName: "Ana", CustomerPhone: "+1"})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	s.clock = func() time.Time { return base.Add(-time.Hour) }
	if _, err := s.CreateMessage(ctx, MessageInput{ConversationID: &c.ID, Content: "late"}); err != nil {
		t.Fatalf("create message: %v", err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !got.LastMessageTime.Equal(base) {
		t.Fatalf("expected lastMessageTime to stay at %s, got %s", base, got.LastMessageTime)
	}
	if got.LastMessage == nil || *got.LastMessage != "late" {
		t.Fatalf("expected preview to be refreshed, got %v", got.LastMessage)
	}
}

func TestMemoryStoreConcurrentMessages(t *testing.T) {
	s := newEmptyMemoryStore()
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, ConversationInput{CustomerName: "Ana", CustomerPhone: "+1"})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateMessage(ctx, MessageInput{ConversationID: &c.ID, Content: "ping"}); err != nil {
				t.Errorf("create message: %v", err)
			}
		}()
	}
	wg.Wait()

	list, err := s.ListMessages(ctx, c.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(list) != 50 {
		t.Fatalf("expected 50 messages, got %d", len(list))
	}
}

func TestSelectFallsBackToMemory(t *testing.T) {
	p := Select(context.Background(), configWithDSN("postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"), testLogger())
	if p.Backend() != BackendMemory {
		t.Fatalf("expected fallback to memory, got %q", p.Backend())
	}

	p = Select(context.Background(), configWithDSN(""), testLogger())
	if p.Backend() != BackendMemory {
		t.Fatalf("expected memory without dsn, got %q", p.Backend())
	}

	dsn := filepath.Join(t.TempDir(), "select.db")
	p = Select(context.Background(), configWithDSN(dsn), testLogger())
	defer p.Close()
	if p.Backend() != BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", p.Backend())
	}
}

func configWithDSN(dsn string) config.DBConfig {
	driver, _ := config.ResolveDriver("", dsn)
	return config.DBConfig{Driver: driver, DSN: dsn, AutoMigrate: true}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
