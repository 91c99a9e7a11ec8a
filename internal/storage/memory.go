package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps every entity family in process memory. Content is lost on
// restart. All returned values are copies.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	conversations map[string]Conversation
	messages      map[string][]Message
	botConfig     *BotConfig
	templates     map[string]MessageTemplate
	analytics     map[string]AnalyticsSnapshot
	clock         func() time.Time
}

var _ Provider = (*MemoryStore)(nil)

// NewMemoryStore returns a store seeded with the demo data set so the console
// is not empty on first run.
func NewMemoryStore() *MemoryStore {
	s := newEmptyMemoryStore()
	s.seed(s.clock())
	return s
}

func newEmptyMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]User{},
		conversations: map[string]Conversation{},
		messages:      map[string][]Message{},
		templates:     map[string]MessageTemplate{},
		analytics:     map[string]AnalyticsSnapshot{},
		clock:         now,
	}
}

func (s *MemoryStore) seed(at time.Time) {
	cfg := newBotConfig("", BotConfigInput{WelcomeMessage: DefaultWelcomeMessage}, at)
	s.botConfig = &cfg

	for i, st := range seedTemplates {
		t := newTemplate(TemplateInput{
			Name:     st.name,
			Content:  st.content,
			Keywords: st.keywords,
			Category: &st.category,
		}, at.Add(-time.Duration(i)*time.Second))
		t.UsageCount = st.usageCount
		s.templates[t.ID] = t
	}

	for _, sc := range seedConversations {
		c := newConversation(ConversationInput{
			CustomerName:   sc.name,
			CustomerPhone:  sc.phone,
			CustomerAvatar: &sc.avatar,
			LastMessage:    &sc.lastMessage,
			Status:         sc.status,
		}, at.Add(-sc.ago))
		s.conversations[c.ID] = c
	}

	a := newAnalytics(seedAnalytics, at)
	s.analytics[a.ID] = a
}

func (s *MemoryStore) Backend() string { return BackendMemory }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, in UserInput) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == in.Username {
			return User{}, ErrDuplicateUsername
		}
	}
	u := newUser(in, s.clock())
	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *MemoryStore) ListConversations(context.Context) ([]Conversation, error) {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, cloneConversation(c))
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Conversation) int {
		return b.LastMessageTime.Compare(a.LastMessageTime)
	})
	return out, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, in ConversationInput) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := newConversation(in, s.clock())
	s.conversations[c.ID] = c
	return cloneConversation(c), nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, id string, patch ConversationPatch) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	c = applyConversationPatch(c, patch)
	s.conversations[id] = c
	return cloneConversation(c), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]
	out := make([]Message, 0, len(list))
	for _, m := range list {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, in MessageInput) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := newMessage(in, s.clock())
	key := ""
	if m.ConversationID != nil {
		key = *m.ConversationID
	}
	s.messages[key] = append(s.messages[key], m)

	if c, ok := s.conversations[key]; ok && key != "" {
		content := m.Content
		c.LastMessage = &content
		c.LastMessageTime = refreshedTime(c.LastMessageTime, m.Timestamp)
		s.conversations[key] = c
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) GetBotConfig(context.Context) (BotConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.botConfig == nil {
		return BotConfig{}, ErrNotFound
	}
	return *s.botConfig, nil
}

func (s *MemoryStore) UpdateBotConfig(_ context.Context, in BotConfigInput) (BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ""
	if s.botConfig != nil {
		id = s.botConfig.ID
	}
	cfg := newBotConfig(id, in, s.clock())
	s.botConfig = &cfg
	return cfg, nil
}

func (s *MemoryStore) ListMessageTemplates(context.Context) ([]MessageTemplate, error) {
	s.mu.RLock()
	out := make([]MessageTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, cloneTemplate(t))
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b MessageTemplate) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetMessageTemplate(_ context.Context, id string) (MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return MessageTemplate{}, ErrNotFound
	}
	return cloneTemplate(t), nil
}

func (s *MemoryStore) CreateMessageTemplate(_ context.Context, in TemplateInput) (MessageTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTemplate(in, s.clock())
	s.templates[t.ID] = t
	return cloneTemplate(t), nil
}

func (s *MemoryStore) UpdateMessageTemplate(_ context.Context, id string, patch TemplatePatch) (MessageTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return MessageTemplate{}, ErrNotFound
	}
	t = applyTemplatePatch(t, patch)
	s.templates[id] = t
	return cloneTemplate(t), nil
}

func (s *MemoryStore) DeleteMessageTemplate(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return false, nil
	}
	delete(s.templates, id)
	return true, nil
}

func (s *MemoryStore) ListAnalytics(context.Context) ([]AnalyticsSnapshot, error) {
	s.mu.RLock()
	out := make([]AnalyticsSnapshot, 0, len(s.analytics))
	for _, a := range s.analytics {
		out = append(out, a)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b AnalyticsSnapshot) int {
		return b.Date.Compare(a.Date)
	})
	return out, nil
}

func (s *MemoryStore) CreateAnalyticsEntry(_ context.Context, in AnalyticsInput) (AnalyticsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := newAnalytics(in, s.clock())
	s.analytics[a.ID] = a
	return a, nil
}

func cloneUser(u User) User {
	u.Avatar = cloneString(u.Avatar)
	return u
}

func cloneConversation(c Conversation) Conversation {
	c.CustomerAvatar = cloneString(c.CustomerAvatar)
	c.LastMessage = cloneString(c.LastMessage)
	return c
}

func cloneMessage(m Message) Message {
	m.ConversationID = cloneString(m.ConversationID)
	m.Metadata = cloneRaw(m.Metadata)
	return m
}

func cloneTemplate(t MessageTemplate) MessageTemplate {
	t.Keywords = cloneStrings(t.Keywords)
	t.Category = cloneString(t.Category)
	return t
}
