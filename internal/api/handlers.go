package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"messagepusher/internal/dispatch"
	"messagepusher/internal/observability"
	"messagepusher/internal/queue"
	"messagepusher/internal/ratelimit"
	"messagepusher/internal/requestbuilder"
	"messagepusher/internal/store"
)

// Handlers implements the two endpoints spec.md §6 names: push and
// message status lookup. It is deliberately thin — everything it does
// is validate, persist, and enqueue; the dispatch engine does the
// actual sending out of band.
type Handlers struct {
	store       *store.Store
	credentials *store.CredentialRepo
	channels    *store.ChannelRepo
	aiChannels  *store.AIChannelRepo
	messages    *store.MessageRepo
	attempts    *store.AttemptRepo
	aiAttempts  *store.AIAttemptRepo
	queue       *queue.TaskQueue
	limiter     *ratelimit.Limiter
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewHandlers builds a Handlers bound to the given repositories. limiter
// may be nil, in which case requests are never rate-limited.
func NewHandlers(s *store.Store, credentials *store.CredentialRepo, channels *store.ChannelRepo, aiChannels *store.AIChannelRepo,
	messages *store.MessageRepo, attempts *store.AttemptRepo, aiAttempts *store.AIAttemptRepo,
	q *queue.TaskQueue, limiter *ratelimit.Limiter, metrics *observability.Metrics, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:       s,
		credentials: credentials,
		channels:    channels,
		aiChannels:  aiChannels,
		messages:    messages,
		attempts:    attempts,
		aiAttempts:  aiAttempts,
		queue:       q,
		limiter:     limiter,
		metrics:     metrics,
		logger:      logger,
	}
}

// HealthCheck is a liveness probe: the process is up and able to handle
// requests, independent of store connectivity.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

// ReadyCheck is a readiness probe: the store must answer a ping.
func (h *Handlers) ReadyCheck(c *fiber.Ctx) error {
	if err := h.store.Health(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// pushParams is the union of JSON body, form, and query parameters the
// original accepts on both POST and GET — mirrors validators.py's
// validate_push_params.
type pushParams struct {
	Title    string `json:"title" form:"title" query:"title"`
	Content  string `json:"content" form:"content" query:"content"`
	URL      string `json:"url" form:"url" query:"url"`
	Channels string `json:"channels" form:"channels" query:"channels"`
	AI       string `json:"ai" form:"ai" query:"ai"`
}

func (h *Handlers) parsePushParams(c *fiber.Ctx) (pushParams, error) {
	var p pushParams
	if c.Method() == fiber.MethodGet {
		return p, c.QueryParser(&p)
	}
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		return p, c.BodyParser(&p)
	}
	return p, c.BodyParser(&p)
}

// Push implements POST/GET /api/v1/push. It validates the requested
// channels and AI channel against the store before creating any rows
// (the stronger of the two behaviors spec.md §8 scenario 4 allows), so
// a disabled or unknown channel id never leaves an orphaned Message
// behind.
func (h *Handlers) Push(c *fiber.Ctx) error {
	cred, err := h.authenticate(c)
	if cred == nil {
		return err
	}

	params, err := h.parsePushParams(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeParamError, "malformed request body")
	}
	if params.Title == "" && params.Content == "" && params.URL == "" {
		return fail(c, fiber.StatusBadRequest, CodeParamError, "one of title, content, url is required")
	}

	if h.limiter != nil {
		allowed, retryAfter, err := h.limiter.Allow(c.Context(), cred.ID.String())
		if err != nil {
			h.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		} else if !allowed {
			c.Set(fiber.HeaderRetryAfter, retryAfter.Truncate(time.Second).String())
			return fail(c, fiber.StatusTooManyRequests, CodeParamError, "rate limit exceeded")
		}
	}

	channelIDStrs := splitPipe(params.Channels)
	if len(channelIDStrs) == 0 {
		channelIDStrs = cred.DefaultChannelIDs
	}
	channelIDs, err := parseUUIDs(channelIDStrs)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeParamError, "malformed channel id")
	}

	var enabledChannels []*store.ChannelTemplate
	if len(channelIDs) > 0 {
		enabledChannels, err = h.channels.GetEnabledByIDs(c.Context(), channelIDs)
		if err != nil {
			h.logger.Error("push: resolve channels", zap.Error(err))
			return fail(c, fiber.StatusInternalServerError, CodeInternal, "internal error")
		}
		if len(enabledChannels) != len(channelIDs) {
			return fail(c, fiber.StatusBadRequest, CodeChannelInvalid, "channel unknown or disabled")
		}
	}

	aiChannelID := params.AI
	if aiChannelID == "" && cred.DefaultAIID != nil {
		aiChannelID = *cred.DefaultAIID
	}
	var aiChannel *store.AIChannelTemplate
	if aiChannelID != "" {
		id, err := uuid.Parse(aiChannelID)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, CodeParamError, "malformed ai channel id")
		}
		aiChannel, err = h.aiChannels.GetEnabled(c.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			return fail(c, fiber.StatusBadRequest, CodeAIChannelInvalid, "ai channel unknown or disabled")
		}
		if err != nil {
			h.logger.Error("push: resolve ai channel", zap.Error(err))
			return fail(c, fiber.StatusInternalServerError, CodeInternal, "internal error")
		}
	}

	msg := &store.Message{CredentialID: cred.ID}
	if params.Title != "" {
		msg.Title = &params.Title
	}
	if params.Content != "" {
		msg.Content = &params.Content
	}
	if params.URL != "" {
		msg.URL = &params.URL
	}
	if err := h.messages.Create(c.Context(), msg); err != nil {
		h.logger.Error("push: create message", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "internal error")
	}

	channels := make([]string, 0, len(enabledChannels))
	for _, ch := range enabledChannels {
		a := &store.Attempt{MessageID: msg.ID, ChannelID: ch.ID}
		if err := h.attempts.Create(c.Context(), a); err != nil {
			h.logger.Error("push: create attempt", zap.Error(err))
			continue
		}
		h.queue.Submit(queue.TypeSendMessage, queue.PriorityNormal, dispatch.SendMessagePayload{AttemptID: a.ID}, 0)
		channels = append(channels, ch.ID.String())
	}

	var aiResponse any
	if aiChannel != nil {
		env := requestbuilder.BuildEnv(msg, aiChannel.Placeholders, 0)
		a := &store.AIAttempt{MessageID: msg.ID, AIChannelID: aiChannel.ID, Prompt: requestbuilder.Substitute(aiChannel.Prompt, env)}
		if err := h.aiAttempts.Create(c.Context(), a); err != nil {
			h.logger.Error("push: create ai_attempt", zap.Error(err))
		} else {
			h.queue.Submit(queue.TypeAIProcess, queue.PriorityNormal, dispatch.AIProcessPayload{AIAttemptID: a.ID}, 0)
			aiResponse = aiChannel.ID.String()
		}
	}

	if msg.URL != nil {
		h.queue.Submit(queue.TypeURLFetch, queue.PriorityHigh, dispatch.URLFetchPayload{MessageID: msg.ID, URL: *msg.URL}, 0)
	}

	return ok(c, fiber.Map{
		"message_id": msg.ID.String(),
		"channels":   channels,
		"ai":         aiResponse,
		"view_url":   h.viewURL(c, msg.ViewToken),
	})
}

// GetMessage implements GET /api/v1/message/:id: the owning credential
// may look up a message's per-channel delivery status and AI result.
func (h *Handlers) GetMessage(c *fiber.Ctx) error {
	cred, err := h.authenticate(c)
	if cred == nil {
		return err
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeNotFound, "invalid message id")
	}

	msg, err := h.messages.GetByID(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, CodeNotFound, "message not found")
	}
	if err != nil {
		h.logger.Error("get_message: load message", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "internal error")
	}
	if msg.CredentialID != cred.ID {
		return fail(c, fiber.StatusForbidden, CodeAuth, "not authorized for this message")
	}

	attempts, err := h.attempts.ListByMessage(c.Context(), msg.ID)
	if err != nil {
		h.logger.Error("get_message: list attempts", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "internal error")
	}
	channelStatuses := make([]fiber.Map, 0, len(attempts))
	for _, a := range attempts {
		ch, err := h.channels.GetByID(c.Context(), a.ChannelID)
		if err != nil {
			continue
		}
		var sentAt any
		if a.SentAt != nil {
			sentAt = a.SentAt.UTC().Format(time.RFC3339)
		}
		channelStatuses = append(channelStatuses, fiber.Map{
			"id": ch.ID.String(), "name": ch.Name, "status": a.Status, "error": a.Error, "sent_at": sentAt,
		})
	}

	var aiStatus any
	if aiAttempt, err := h.aiAttempts.GetByMessage(c.Context(), msg.ID); err == nil {
		aiChannel, chErr := h.aiChannels.GetByID(c.Context(), aiAttempt.AIChannelID)
		if chErr == nil {
			var processedAt any
			if aiAttempt.ProcessedAt != nil {
				processedAt = aiAttempt.ProcessedAt.UTC().Format(time.RFC3339)
			}
			aiStatus = fiber.Map{
				"id": aiChannel.ID.String(), "name": aiChannel.Name, "status": aiAttempt.Status,
				"result": aiAttempt.Result, "error": aiAttempt.Error, "processed_at": processedAt,
			}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("get_message: load ai_attempt", zap.Error(err))
	}

	return ok(c, fiber.Map{
		"message_id": msg.ID.String(),
		"title":      msg.Title,
		"content":    msg.Content,
		"url":        msg.URL,
		"channels":   channelStatuses,
		"ai":         aiStatus,
		"created_at": msg.CreatedAt.UTC().Format(time.RFC3339),
		"view_url":   h.viewURL(c, msg.ViewToken),
	})
}

func (h *Handlers) viewURL(c *fiber.Ctx, viewToken string) string {
	return strings.TrimRight(c.BaseURL(), "/") + "/view/" + viewToken
}

func splitPipe(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseUUIDs(ss []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ss))
	for _, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
