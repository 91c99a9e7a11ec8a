package responder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"chatdesk/internal/metrics"
	"chatdesk/internal/queue"
	"chatdesk/internal/storage"
	"chatdesk/internal/templating"
)

const (
	SkipDuplicate            = "duplicate"
	SkipNoConfig             = "no_config"
	SkipBotInactive          = "bot_inactive"
	SkipAutoRespondOff       = "auto_respond_off"
	SkipReplyCap             = "reply_cap"
	SkipConversationNotFound = "conversation_not_found"
)

const pendingBatch = 50

type Responder struct {
	store         storage.Provider
	queue         *queue.StreamQueue
	dedupe        *queue.MessageDeduplicator
	replyCap      *queue.ReplyCap
	maxJobRetries int
	businessName  string
	fallback      string
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

type Config struct {
	Store           storage.Provider
	Queue           *queue.StreamQueue
	Dedupe          *queue.MessageDeduplicator
	ReplyCap        *queue.ReplyCap
	MaxJobRetries   int
	BusinessName    string
	FallbackMessage string
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// Outcome describes what a processed job did.
type Outcome struct {
	Reply      *storage.Message
	SkipReason string
}

func New(cfg Config) *Responder {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	return &Responder{
		store:         cfg.Store,
		queue:         cfg.Queue,
		dedupe:        cfg.Dedupe,
		replyCap:      cfg.ReplyCap,
		maxJobRetries: cfg.MaxJobRetries,
		businessName:  cfg.BusinessName,
		fallback:      cfg.FallbackMessage,
		logger:        cfg.Logger,
		metrics:       m,
		now:           time.Now,
	}
}

// EnqueueReply schedules an automatic answer to a customer message. Bot
// messages and messages outside a conversation are ignored.
func (r *Responder) EnqueueReply(ctx context.Context, msg storage.Message) error {
	if msg.IsBot || !msg.IsUser || msg.ConversationID == nil {
		return nil
	}
	_, err := r.queue.Enqueue(ctx, queue.ReplyJob{
		ConversationID: *msg.ConversationID,
		MessageID:      msg.ID,
		Content:        msg.Content,
	})
	if err != nil {
		return err
	}
	r.metrics.RepliesEnqueued.Inc()
	return nil
}

func (r *Responder) Start(ctx context.Context, concurrency int) error {
	if err := r.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	r.logger.Info().Str("consumer", r.queue.Consumer()).Int("concurrency", concurrency).Msg("responder consuming")
	r.drainPending(ctx)

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			r.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (r *Responder) consumeLoop(ctx context.Context, slot int) {
	log := r.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		deliveries, err := r.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			if sleepCtx(ctx, time.Second) != nil {
				return
			}
			continue
		}

		for _, d := range deliveries {
			r.handle(ctx, log, d)
		}
	}
}

// drainPending replays jobs this consumer took before a restart but never
// acknowledged, such as one cut off during the response delay.
func (r *Responder) drainPending(ctx context.Context) {
	log := r.logger.With().Str("phase", "pending").Logger()
	after := "0"
	for ctx.Err() == nil {
		deliveries, err := r.queue.ReadPending(ctx, after, pendingBatch)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to read pending jobs")
			}
			return
		}
		if len(deliveries) == 0 {
			return
		}
		for _, d := range deliveries {
			r.handle(ctx, log, d)
			after = d.ID
		}
	}
}

func (r *Responder) handle(ctx context.Context, log zerolog.Logger, d queue.Delivery) {
	if d.Malformed {
		log.Warn().Str("msg_id", d.ID).Msg("dropping reply job with unreadable payload")
		if ackErr := r.queue.Ack(ctx, d.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", d.ID).Msg("failed to ack malformed message")
		}
		return
	}

	out, err := r.ProcessJob(ctx, d.Job)
	if err == nil {
		if out.SkipReason != "" {
			r.metrics.RepliesSkipped.WithLabelValues(out.SkipReason).Inc()
			log.Debug().Str("conversation_id", d.Job.ConversationID).Str("reason", out.SkipReason).Msg("reply skipped")
		} else {
			r.metrics.RepliesProcessed.Inc()
		}
		if ackErr := r.queue.Ack(ctx, d.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", d.ID).Msg("failed to ack message")
		}
		return
	}
	if ctx.Err() != nil {
		// Shutting down: the entry stays pending and drainPending picks it up on the next start.
		return
	}

	r.metrics.RepliesFailed.Inc()
	log.Error().Err(err).Str("job_id", d.Job.JobID).Int("attempt", d.Job.Attempts).Msg("reply job failed")

	if d.Job.Attempts < r.maxJobRetries {
		d.Job.Attempts++
		if _, enqueueErr := r.queue.Enqueue(ctx, d.Job); enqueueErr != nil {
			log.Error().Err(enqueueErr).Str("job_id", d.Job.JobID).Msg("failed to re-enqueue failed job")
			return
		}
		if ackErr := r.queue.Ack(ctx, d.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", d.ID).Msg("failed to ack after re-enqueue")
		}
		return
	}

	log.Error().Str("job_id", d.Job.JobID).Str("conversation_id", d.Job.ConversationID).Msg("dropping reply job after max retries")
	if ackErr := r.queue.Ack(ctx, d.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("msg_id", d.ID).Msg("failed to ack terminal failed message")
	}
}

// ProcessJob answers one customer message. A non-empty SkipReason with a nil
// error means the job is finished without a reply.
func (r *Responder) ProcessJob(ctx context.Context, job queue.ReplyJob) (Outcome, error) {
	first, err := r.dedupe.MarkFirst(ctx, job.MessageID)
	if err != nil {
		return Outcome{}, err
	}
	if !first {
		return Outcome{SkipReason: SkipDuplicate}, nil
	}

	out, err := r.reply(ctx, job)
	if err != nil || out.SkipReason != "" {
		// Only a posted reply keeps the mark; anything else may be retried.
		if forgetErr := r.dedupe.Forget(context.WithoutCancel(ctx), job.MessageID); forgetErr != nil {
			r.logger.Warn().Err(forgetErr).Str("message_id", job.MessageID).Msg("failed to release dedupe mark")
		}
	}
	return out, err
}

func (r *Responder) reply(ctx context.Context, job queue.ReplyJob) (Outcome, error) {
	cfg, err := r.store.GetBotConfig(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{SkipReason: SkipNoConfig}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load bot config: %w", err)
	}
	if !cfg.IsActive {
		return Outcome{SkipReason: SkipBotInactive}, nil
	}
	if !cfg.AutoRespond {
		return Outcome{SkipReason: SkipAutoRespondOff}, nil
	}

	conv, err := r.store.GetConversation(ctx, job.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{SkipReason: SkipConversationNotFound}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load conversation: %w", err)
	}

	if err := sleepCtx(ctx, cfg.ResponseDelayDuration()); err != nil {
		return Outcome{}, err
	}

	templates, err := r.store.ListMessageTemplates(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list templates: %w", err)
	}

	in := storage.MessageInput{
		ConversationID: &conv.ID,
		Content:        r.fallback,
		IsBot:          boolPtr(true),
		IsUser:         boolPtr(false),
		MessageType:    storage.MessageTypeText,
	}
	if tpl, ok := MatchTemplate(templates, job.Content); ok {
		meta, err := json.Marshal(map[string]string{"templateId": tpl.ID})
		if err != nil {
			return Outcome{}, fmt.Errorf("marshal reply metadata: %w", err)
		}
		in.Content = templating.Substitute(tpl.Content, r.bindings(conv))
		in.MessageType = storage.MessageTypeTemplate
		in.Metadata = meta
	}

	takenAt := r.now()
	allowed, used, resetAt, err := r.replyCap.Allow(ctx, conv.ID, takenAt)
	if err != nil {
		return Outcome{}, err
	}
	if !allowed {
		r.logger.Info().Str("conversation_id", conv.ID).Int64("used", used).Time("reset_at", resetAt).Msg("reply cap reached")
		return Outcome{SkipReason: SkipReplyCap}, nil
	}

	msg, err := r.store.CreateMessage(ctx, in)
	if err != nil {
		if relErr := r.replyCap.Release(context.WithoutCancel(ctx), conv.ID, takenAt); relErr != nil {
			r.logger.Warn().Err(relErr).Str("conversation_id", conv.ID).Msg("failed to release reply cap slot")
		}
		return Outcome{}, fmt.Errorf("append reply: %w", err)
	}
	r.metrics.MessagesCreated.WithLabelValues(metrics.Sender(true)).Inc()
	return Outcome{Reply: &msg}, nil
}

func (r *Responder) bindings(conv storage.Conversation) map[string]string {
	now := r.now()
	return map[string]string{
		"customer_name":  conv.CustomerName,
		"customer_phone": conv.CustomerPhone,
		"date":           now.Format("January 2, 2006"),
		"time":           now.Format("3:04 PM"),
		"business_name":  r.businessName,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func boolPtr(b bool) *bool { return &b }
