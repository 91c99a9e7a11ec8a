package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
)

var (
	botConfigColumns = []string{"id", "name", "welcome_message", "is_active", "auto_respond", "response_delay", "updated_at"}
	templateColumns  = []string{"id", "name", "content", "keywords_json", "category", "is_active", "usage_count", "created_at"}
	analyticsColumns = []string{"id", "date", "total_messages", "active_users", "bot_responses", "response_rate", "avg_response_time", "user_satisfaction"}
)

func (s *SQLStore) GetBotConfig(ctx context.Context) (BotConfig, error) {
	return s.getBotConfig(ctx, s.db)
}

func (s *SQLStore) getBotConfig(ctx context.Context, r runner) (BotConfig, error) {
	q := s.sql.Select(botConfigColumns...).
		From("bot_config").
		OrderBy("updated_at DESC").
		Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return BotConfig{}, fmt.Errorf("build get bot config query: %w", err)
	}

	var c BotConfig
	err = r.QueryRowContext(ctx, sqlStr, args...).Scan(
		&c.ID,
		&c.Name,
		&c.WelcomeMessage,
		&c.IsActive,
		&c.AutoRespond,
		&c.ResponseDelay,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BotConfig{}, ErrNotFound
		}
		return BotConfig{}, fmt.Errorf("get bot config: %w", err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// UpdateBotConfig replaces the singleton configuration, creating it on first use.
func (s *SQLStore) UpdateBotConfig(ctx context.Context, in BotConfigInput) (BotConfig, error) {
	var out BotConfig
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.getBotConfig(ctx, tx)
		switch {
		case errors.Is(err, ErrNotFound):
			out = newBotConfig("", in, now())
			q := s.sql.Insert("bot_config").
				Columns(botConfigColumns...).
				Values(out.ID, out.Name, out.WelcomeMessage, out.IsActive, out.AutoRespond, out.ResponseDelay, out.UpdatedAt)
			sqlStr, args, err := q.ToSql()
			if err != nil {
				return fmt.Errorf("build insert bot config query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
				return fmt.Errorf("insert bot config: %w", err)
			}
			return nil
		case err != nil:
			return err
		}

		out = newBotConfig(existing.ID, in, refreshedTime(existing.UpdatedAt, now()))
		q := s.sql.Update("bot_config").
			Set("name", out.Name).
			Set("welcome_message", out.WelcomeMessage).
			Set("is_active", out.IsActive).
			Set("auto_respond", out.AutoRespond).
			Set("response_delay", out.ResponseDelay).
			Set("updated_at", out.UpdatedAt).
			Where(sq.Eq{"id": existing.ID})
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build update bot config query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("update bot config: %w", err)
		}
		return nil
	})
	if err != nil {
		return BotConfig{}, err
	}
	return out, nil
}

func (s *SQLStore) ListMessageTemplates(ctx context.Context) ([]MessageTemplate, error) {
	q := s.sql.Select(templateColumns...).
		From("message_templates").
		OrderBy("created_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list templates query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := make([]MessageTemplate, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template rows: %w", err)
	}
	return out, nil
}

func (s *SQLStore) GetMessageTemplate(ctx context.Context, id string) (MessageTemplate, error) {
	return s.getTemplate(ctx, s.db, id)
}

func (s *SQLStore) getTemplate(ctx context.Context, r runner, id string) (MessageTemplate, error) {
	q := s.sql.Select(templateColumns...).From("message_templates").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return MessageTemplate{}, fmt.Errorf("build get template query: %w", err)
	}
	t, err := scanTemplate(r.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MessageTemplate{}, ErrNotFound
		}
		return MessageTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *SQLStore) CreateMessageTemplate(ctx context.Context, in TemplateInput) (MessageTemplate, error) {
	t := newTemplate(in, now())
	keywords, err := encodeKeywords(t.Keywords)
	if err != nil {
		return MessageTemplate{}, err
	}
	q := s.sql.Insert("message_templates").
		Columns(templateColumns...).
		Values(t.ID, t.Name, t.Content, keywords, t.Category, t.IsActive, t.UsageCount, t.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return MessageTemplate{}, fmt.Errorf("build create template query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return MessageTemplate{}, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

func (s *SQLStore) UpdateMessageTemplate(ctx context.Context, id string, patch TemplatePatch) (MessageTemplate, error) {
	var out MessageTemplate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := s.getTemplate(ctx, tx, id)
		if err != nil {
			return err
		}
		t = applyTemplatePatch(t, patch)
		keywords, err := encodeKeywords(t.Keywords)
		if err != nil {
			return err
		}
		q := s.sql.Update("message_templates").
			Set("name", t.Name).
			Set("content", t.Content).
			Set("keywords_json", keywords).
			Set("category", t.Category).
			Set("is_active", t.IsActive).
			Where(sq.Eq{"id": id})
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build update template query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return MessageTemplate{}, err
	}
	return out, nil
}

func (s *SQLStore) DeleteMessageTemplate(ctx context.Context, id string) (bool, error) {
	q := s.sql.Delete("message_templates").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete template query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete template rows affected: %w", err)
	}
	return n > 0, nil
}

func scanTemplate(row rowScanner) (MessageTemplate, error) {
	var t MessageTemplate
	var keywords, category sql.NullString
	if err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Content,
		&keywords,
		&category,
		&t.IsActive,
		&t.UsageCount,
		&t.CreatedAt,
	); err != nil {
		return MessageTemplate{}, err
	}
	kw, err := decodeKeywords(keywords)
	if err != nil {
		return MessageTemplate{}, err
	}
	t.Keywords = kw
	t.Category = nullStringPtr(category)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// encodeKeywords stores nil as SQL NULL so an absent list stays absent.
func encodeKeywords(keywords []string) (any, error) {
	if keywords == nil {
		return nil, nil
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return nil, fmt.Errorf("encode keywords: %w", err)
	}
	return string(b), nil
}

func decodeKeywords(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	out := make([]string, 0)
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListAnalytics(ctx context.Context) ([]AnalyticsSnapshot, error) {
	q := s.sql.Select(analyticsColumns...).
		From("analytics").
		OrderBy("date DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list analytics query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list analytics: %w", err)
	}
	defer rows.Close()

	out := make([]AnalyticsSnapshot, 0)
	for rows.Next() {
		var a AnalyticsSnapshot
		if err := rows.Scan(
			&a.ID,
			&a.Date,
			&a.TotalMessages,
			&a.ActiveUsers,
			&a.BotResponses,
			&a.ResponseRate,
			&a.AvgResponseTime,
			&a.UserSatisfaction,
		); err != nil {
			return nil, fmt.Errorf("scan analytics row: %w", err)
		}
		a.Date = a.Date.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analytics rows: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateAnalyticsEntry(ctx context.Context, in AnalyticsInput) (AnalyticsSnapshot, error) {
	a := newAnalytics(in, now())
	q := s.sql.Insert("analytics").
		Columns(analyticsColumns...).
		Values(a.ID, a.Date, a.TotalMessages, a.ActiveUsers, a.BotResponses, a.ResponseRate, a.AvgResponseTime, a.UserSatisfaction)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return AnalyticsSnapshot{}, fmt.Errorf("build create analytics query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return AnalyticsSnapshot{}, fmt.Errorf("create analytics entry: %w", err)
	}
	return a, nil
}
