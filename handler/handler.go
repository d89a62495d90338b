package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"codes-bot/internal/integrations/telegram"
	"codes-bot/internal/usecase"
)

const (
	defaultPollTimeout = 30 * time.Second
	defaultPollBackoff = 3 * time.Second
)

type Processor interface {
	HandleStart(ctx context.Context, chatID int64) error
	HandleDocument(ctx context.Context, in usecase.DocumentInput) (usecase.DocumentOutput, error)
}

type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Handler routes bot updates to the processing use case.
type Handler struct {
	uc          Processor
	updates     UpdateSource
	pollTimeout time.Duration
	pollBackoff time.Duration
	logger      *slog.Logger
	after       func(time.Duration) <-chan time.Time

	inflight sync.WaitGroup
}

type Option func(*Handler)

func WithPollTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pollTimeout = d
		}
	}
}

func WithPollBackoff(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pollBackoff = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(uc Processor, updates UpdateSource, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if updates == nil {
		return nil, errors.New("handler: update source must not be nil")
	}
	h := &Handler{
		uc:          uc,
		updates:     updates,
		pollTimeout: defaultPollTimeout,
		pollBackoff: defaultPollBackoff,
		logger:      slog.Default(),
		after:       time.After,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle processes one update. Updates without a message, and messages that
// are neither /start nor a document, are ignored.
func (h *Handler) Handle(ctx context.Context, u telegram.Update) error {
	msg := u.Message
	if msg == nil {
		return nil
	}
	log := h.logger.With("update_id", u.UpdateID, "request_id", uuid.NewString(), "chat_id", msg.Chat.ID)

	switch {
	case msg.Document != nil:
		in := usecase.DocumentInput{
			UserID:    senderID(msg),
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			FileID:    msg.Document.FileID,
			FileName:  msg.Document.FileName,
		}
		out, err := h.uc.HandleDocument(ctx, in)
		if err != nil {
			logUseCaseError(log, "document rejected", err)
			return err
		}
		log.Info("document handled", "user_id", in.UserID, "article", out.Key, "codes", out.Codes)
	case msg.Command() == "start":
		if err := h.uc.HandleStart(ctx, msg.Chat.ID); err != nil {
			logUseCaseError(log, "start failed", err)
			return err
		}
		log.Info("start handled", "user_id", senderID(msg))
	default:
		log.Debug("update ignored")
	}
	return nil
}

// Run long-polls for updates until ctx is cancelled and handles each one on
// its own goroutine. Handlers keep running after cancellation and Run returns
// once they finish.
func (h *Handler) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	defer h.inflight.Wait()

	var offset int64
	for ctx.Err() == nil {
		updates, err := h.updates.GetUpdates(ctx, offset, h.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			wait := h.pollBackoff
			var apiErr *telegram.APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			h.logger.Warn("poll failed", "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
			case <-h.after(wait):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			h.inflight.Add(1)
			go func(u telegram.Update) {
				defer h.inflight.Done()
				defer func() {
					if r := recover(); r != nil {
						h.logger.Error("update handler panicked", "update_id", u.UpdateID, "panic", r)
					}
				}()
				_ = h.Handle(work, u)
			}(u)
		}
	}
	h.logger.Info("polling stopped")
	return nil
}

// senderID falls back to the chat for messages without a sender.
func senderID(msg *telegram.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}

func logUseCaseError(log *slog.Logger, msg string, err error) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		level := slog.LevelWarn
		if ucErr.Code == usecase.ErrorInternal {
			level = slog.LevelError
		}
		log.Log(context.Background(), level, msg, "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
		return
	}
	log.Error(msg, "err", err)
}
