package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var (
	userColumns         = []string{"id", "username", "password_hash", "name", "role", "avatar", "created_at"}
	conversationColumns = []string{"id", "customer_name", "customer_phone", "customer_avatar", "last_message", "last_message_time", "status", "is_active"}
	messageColumns      = []string{"id", "conversation_id", "content", "is_bot", "is_user", "timestamp", "message_type", "metadata_json"}
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, sq.Eq{"id": id})
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, sq.Eq{"username": username})
}

func (s *SQLStore) getUser(ctx context.Context, where sq.Sqlizer) (User, error) {
	q := s.sql.Select(userColumns...).From("users").Where(where).Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build get user query: %w", err)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, in UserInput) (User, error) {
	u := newUser(in, now())
	q := s.sql.Insert("users").
		Columns(userColumns...).
		Values(u.ID, u.Username, u.PasswordHash, u.Name, u.Role, u.Avatar, u.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build create user query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func scanUser(row rowScanner) (User, error) {
	var u User
	var avatar sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &u.Role, &avatar, &u.CreatedAt); err != nil {
		return User{}, err
	}
	u.Avatar = nullStringPtr(avatar)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *SQLStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	q := s.sql.Select(conversationColumns...).
		From("conversations").
		OrderBy("last_message_time DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list conversations query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *SQLStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	return s.getConversation(ctx, s.db, id)
}

func (s *SQLStore) getConversation(ctx context.Context, r runner, id string) (Conversation, error) {
	q := s.sql.Select(conversationColumns...).From("conversations").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Conversation{}, fmt.Errorf("build get conversation query: %w", err)
	}
	c, err := scanConversation(r.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *SQLStore) CreateConversation(ctx context.Context, in ConversationInput) (Conversation, error) {
	c := newConversation(in, now())
	q := s.sql.Insert("conversations").
		Columns(conversationColumns...).
		Values(c.ID, c.CustomerName, c.CustomerPhone, c.CustomerAvatar, c.LastMessage, c.LastMessageTime, c.Status, c.IsActive)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Conversation{}, fmt.Errorf("build create conversation query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *SQLStore) UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (Conversation, error) {
	var out Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := s.getConversation(ctx, tx, id)
		if err != nil {
			return err
		}
		c = applyConversationPatch(c, patch)
		q := s.sql.Update("conversations").
			Set("customer_name", c.CustomerName).
			Set("customer_phone", c.CustomerPhone).
			Set("customer_avatar", c.CustomerAvatar).
			Set("status", c.Status).
			Set("is_active", c.IsActive).
			Where(sq.Eq{"id": id})
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build update conversation query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var avatar, lastMessage sql.NullString
	if err := row.Scan(
		&c.ID,
		&c.CustomerName,
		&c.CustomerPhone,
		&avatar,
		&lastMessage,
		&c.LastMessageTime,
		&c.Status,
		&c.IsActive,
	); err != nil {
		return Conversation{}, err
	}
	c.CustomerAvatar = nullStringPtr(avatar)
	c.LastMessage = nullStringPtr(lastMessage)
	c.LastMessageTime = c.LastMessageTime.UTC()
	return c, nil
}

func (s *SQLStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	q := s.sql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("timestamp ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// CreateMessage inserts the message and refreshes the conversation preview in
// one transaction. A message without a matching conversation is still stored.
func (s *SQLStore) CreateMessage(ctx context.Context, in MessageInput) (Message, error) {
	m := newMessage(in, now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		q := s.sql.Insert("messages").
			Columns(messageColumns...).
			Values(m.ID, m.ConversationID, m.Content, m.IsBot, m.IsUser, m.Timestamp, m.MessageType, rawToNull(m.Metadata))
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build create message query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("create message: %w", err)
		}

		if m.ConversationID == nil {
			return nil
		}
		c, err := s.getConversation(ctx, tx, *m.ConversationID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		uq := s.sql.Update("conversations").
			Set("last_message", m.Content).
			Set("last_message_time", refreshedTime(c.LastMessageTime, m.Timestamp)).
			Where(sq.Eq{"id": c.ID})
		sqlStr, args, err = uq.ToSql()
		if err != nil {
			return fmt.Errorf("build refresh conversation query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("refresh conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var conversationID, metadata sql.NullString
	if err := row.Scan(
		&m.ID,
		&conversationID,
		&m.Content,
		&m.IsBot,
		&m.IsUser,
		&m.Timestamp,
		&m.MessageType,
		&metadata,
	); err != nil {
		return Message{}, err
	}
	m.ConversationID = nullStringPtr(conversationID)
	if metadata.Valid && metadata.String != "" {
		m.Metadata = []byte(metadata.String)
	}
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func rawToNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
