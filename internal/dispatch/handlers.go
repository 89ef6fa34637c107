package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"messagepusher/internal/errorledger"
	"messagepusher/internal/queue"
	"messagepusher/internal/requestbuilder"
	"messagepusher/internal/store"
)

// DefaultURLFetchTimeout and DefaultMaxContentLength mirror the original
// message processor's configured defaults.
const (
	DefaultURLFetchTimeout  = 10 * time.Second
	DefaultMaxContentLength = 1 << 20
)

// SendMessagePayload is the queue.Task payload for TypeSendMessage.
type SendMessagePayload struct {
	AttemptID uuid.UUID
}

// AIProcessPayload is the queue.Task payload for TypeAIProcess.
type AIProcessPayload struct {
	AIAttemptID uuid.UUID
}

// URLFetchPayload is the queue.Task payload for TypeURLFetch.
type URLFetchPayload struct {
	MessageID uuid.UUID
	URL       string
}

// SystemMaintenancePayload is the queue.Task payload for
// TypeSystemMaintenance; Action names a func registered via
// RegisterMaintenance.
type SystemMaintenancePayload struct {
	Action string
}

// Handlers binds the four task types to the store and HTTP execution.
// Retry scheduling for send/AI attempts lives one layer up, in
// internal/scheduler's retry_failed job, which resubmits failed Attempt/
// AIAttempt rows as new tasks — so these handlers always report success
// to the queue once they have durably recorded an outcome in the store,
// even when that outcome is a delivery failure.
type Handlers struct {
	channels   *store.ChannelRepo
	aiChannels *store.AIChannelRepo
	messages   *store.MessageRepo
	attempts   *store.AttemptRepo
	aiAttempts *store.AIAttemptRepo
	clients    *Clients
	logger     *zap.Logger
	ledger     *errorledger.Ledger

	maxContentLength int
	fetchTimeout     time.Duration

	mu          sync.RWMutex
	maintenance map[string]func(ctx context.Context) error
}

// New builds a Handlers bound to the given repositories.
func New(channels *store.ChannelRepo, aiChannels *store.AIChannelRepo, messages *store.MessageRepo,
	attempts *store.AttemptRepo, aiAttempts *store.AIAttemptRepo, clients *Clients, logger *zap.Logger) *Handlers {
	return &Handlers{
		channels:         channels,
		aiChannels:       aiChannels,
		messages:         messages,
		attempts:         attempts,
		aiAttempts:       aiAttempts,
		clients:          clients,
		logger:           logger,
		maxContentLength: DefaultMaxContentLength,
		fetchTimeout:     DefaultURLFetchTimeout,
		maintenance:      make(map[string]func(ctx context.Context) error),
	}
}

// SetLedger attaches the error ledger store/handler-bug failures are
// reported to, per §7's error taxonomy. Reporting is skipped entirely
// when no ledger has been attached.
func (h *Handlers) SetLedger(l *errorledger.Ledger) { h.ledger = l }

// SetLimits overrides the url_fetch_timeout / max_content_length
// defaults from the process configuration.
func (h *Handlers) SetLimits(fetchTimeout time.Duration, maxContentLength int) {
	h.fetchTimeout = fetchTimeout
	h.maxContentLength = maxContentLength
}

func (h *Handlers) reportError(source string, sev errorledger.Severity, err error) {
	if h.ledger == nil || err == nil {
		return
	}
	h.ledger.Handle(source, sev, err.Error())
}

// RegisterMaintenance binds a named maintenance action the scheduler can
// submit as a TypeSystemMaintenance task.
func (h *Handlers) RegisterMaintenance(action string, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maintenance[action] = fn
}

// SendMessage is the queue.Handler for TypeSendMessage.
func (h *Handlers) SendMessage(ctx context.Context, task *queue.Task) error {
	payload, ok := task.Payload.(SendMessagePayload)
	if !ok {
		return fmt.Errorf("dispatch: send_message payload has wrong type %T", task.Payload)
	}

	attempt, err := h.attempts.GetByID(ctx, payload.AttemptID)
	if err != nil {
		h.reportError("dispatch.send_message", errorledger.SeverityCritical, err)
		return fmt.Errorf("dispatch: load attempt %s: %w", payload.AttemptID, err)
	}
	if attempt.Status == store.AttemptSuccess {
		return nil // already latched, nothing to do
	}
	if err := h.attempts.CompareAndSetStatus(ctx, attempt.ID, attempt.Status, store.AttemptSending, nil, nil); err != nil {
		if errors.Is(err, store.ErrCASFailed) {
			h.logger.Info("send_message skipped, attempt moved under us", zap.String("attempt_id", attempt.ID.String()))
			return nil
		}
		h.reportError("dispatch.send_message", errorledger.SeverityCritical, err)
		return fmt.Errorf("dispatch: cas attempt to sending: %w", err)
	}

	msg, err := h.messages.GetByID(ctx, attempt.MessageID)
	if err != nil {
		return h.failAttempt(ctx, attempt.ID, fmt.Errorf("load message: %w", err), false)
	}
	channel, err := h.channels.GetByID(ctx, attempt.ChannelID)
	if err != nil {
		return h.failAttempt(ctx, attempt.ID, fmt.Errorf("load channel: %w", err), false)
	}
	if channel.Status != store.TemplateEnabled {
		return h.failAttempt(ctx, attempt.ID, fmt.Errorf("channel disabled"), true)
	}

	req, err := requestbuilder.BuildChannelRequest(ctx, channel, msg)
	if err != nil {
		return h.failAttempt(ctx, attempt.ID, fmt.Errorf("build request: %w", err), true)
	}
	client, err := h.clients.For(channel.Proxy)
	if err != nil {
		return h.failAttempt(ctx, attempt.ID, fmt.Errorf("resolve proxy: %w", err), true)
	}

	resp, doErr := client.Do(req)
	outcome := requestbuilder.Classify(resp, doErr)
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	}

	if outcome == requestbuilder.OutcomeSuccess {
		now := time.Now()
		if err := h.attempts.CompareAndSetStatus(ctx, attempt.ID, store.AttemptSending, store.AttemptSuccess, nil, &now); err != nil && !errors.Is(err, store.ErrCASFailed) {
			return fmt.Errorf("dispatch: cas attempt to success: %w", err)
		}
		return nil
	}

	detail := classifyError(resp, doErr)
	return h.failAttempt(ctx, attempt.ID, detail, outcome == requestbuilder.OutcomePermanent)
}

// failAttempt CAS-transitions attempt `sending` to `failed`, recording
// cause. exhaust is true for a permanent-dispatch outcome (or a disabled
// channel), per §4.4.1 step 6: retry_count is set to max_retries so the
// row's budget is immediately spent and the scheduler's retry sweep
// never resubmits it.
func (h *Handlers) failAttempt(ctx context.Context, id uuid.UUID, cause error, exhaust bool) error {
	if err := h.attempts.CompareAndSetFailed(ctx, id, store.AttemptSending, cause.Error(), exhaust); err != nil && !errors.Is(err, store.ErrCASFailed) {
		h.logger.Error("failed to record attempt failure", zap.String("attempt_id", id.String()), zap.Error(err))
		h.reportError("dispatch.send_message", errorledger.SeverityCritical, err)
	}
	return nil
}

func classifyError(resp *http.Response, err error) error {
	if err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

// aiChatResponse is the chat-completion-style envelope extractCompletion
// looks for, per §4.4.2's convention.
type aiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// extractCompletion pulls the textual result out of an AI channel's
// response body. A body that does not parse as JSON at all is not an
// error — it is stored verbatim, per §4.4.2 ("else the raw body"). A
// body that parses as JSON but lacks a usable choices[0].message.content
// is structurally unusable and returns an error, which the caller
// treats as a permanent failure.
func extractCompletion(body []byte) (string, error) {
	var parsed aiChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body), nil
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no choices[0].message.content in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// AIProcess is the queue.Handler for TypeAIProcess.
func (h *Handlers) AIProcess(ctx context.Context, task *queue.Task) error {
	payload, ok := task.Payload.(AIProcessPayload)
	if !ok {
		return fmt.Errorf("dispatch: ai_process payload has wrong type %T", task.Payload)
	}

	attempt, err := h.aiAttempts.GetByID(ctx, payload.AIAttemptID)
	if err != nil {
		h.reportError("dispatch.ai_process", errorledger.SeverityCritical, err)
		return fmt.Errorf("dispatch: load ai_attempt %s: %w", payload.AIAttemptID, err)
	}
	if attempt.Status == store.AIAttemptSuccess {
		return nil
	}
	if err := h.aiAttempts.CompareAndSetStatus(ctx, attempt.ID, attempt.Status, store.AIAttemptProcessing, nil, nil, nil); err != nil {
		if errors.Is(err, store.ErrCASFailed) {
			return nil
		}
		h.reportError("dispatch.ai_process", errorledger.SeverityCritical, err)
		return fmt.Errorf("dispatch: cas ai_attempt to processing: %w", err)
	}

	msg, err := h.messages.GetByID(ctx, attempt.MessageID)
	if err != nil {
		return h.failAIAttempt(ctx, attempt.ID, fmt.Errorf("load message: %w", err), false)
	}
	channel, err := h.aiChannels.GetByID(ctx, attempt.AIChannelID)
	if err != nil {
		return h.failAIAttempt(ctx, attempt.ID, fmt.Errorf("load ai_channel: %w", err), false)
	}
	if channel.Status != store.TemplateEnabled {
		return h.failAIAttempt(ctx, attempt.ID, fmt.Errorf("ai channel disabled"), true)
	}

	req, err := requestbuilder.BuildAIRequest(ctx, channel, msg)
	if err != nil {
		return h.failAIAttempt(ctx, attempt.ID, fmt.Errorf("build request: %w", err), true)
	}
	client, err := h.clients.For(channel.Proxy)
	if err != nil {
		return h.failAIAttempt(ctx, attempt.ID, fmt.Errorf("resolve proxy: %w", err), true)
	}

	resp, doErr := client.Do(req)
	outcome := requestbuilder.Classify(resp, doErr)
	var body []byte
	if resp != nil {
		defer resp.Body.Close()
		body, _ = io.ReadAll(io.LimitReader(resp.Body, int64(h.maxContentLength)))
	}

	if outcome != requestbuilder.OutcomeSuccess {
		return h.failAIAttempt(ctx, attempt.ID, classifyError(resp, doErr), outcome == requestbuilder.OutcomePermanent)
	}

	result, extractErr := extractCompletion(body)
	if extractErr != nil {
		// HTTP-success but structurally unusable: a permanent failure
		// per §4.4.2, never worth retrying against the same endpoint.
		return h.failAIAttempt(ctx, attempt.ID, fmt.Errorf("parse ai response: %w", extractErr), true)
	}

	now := time.Now()
	if err := h.aiAttempts.CompareAndSetStatus(ctx, attempt.ID, store.AIAttemptProcessing, store.AIAttemptSuccess, &result, nil, &now); err != nil && !errors.Is(err, store.ErrCASFailed) {
		return fmt.Errorf("dispatch: cas ai_attempt to success: %w", err)
	}
	return nil
}

// failAIAttempt mirrors failAttempt for the AIAttempt state machine.
func (h *Handlers) failAIAttempt(ctx context.Context, id uuid.UUID, cause error, exhaust bool) error {
	if err := h.aiAttempts.CompareAndSetFailed(ctx, id, store.AIAttemptProcessing, cause.Error(), exhaust); err != nil && !errors.Is(err, store.ErrCASFailed) {
		h.logger.Error("failed to record ai_attempt failure", zap.String("ai_attempt_id", id.String()), zap.Error(err))
		h.reportError("dispatch.ai_process", errorledger.SeverityCritical, err)
	}
	return nil
}

// URLFetch is the queue.Handler for TypeURLFetch.
func (h *Handlers) URLFetch(ctx context.Context, task *queue.Task) error {
	payload, ok := task.Payload.(URLFetchPayload)
	if !ok {
		return fmt.Errorf("dispatch: url_fetch payload has wrong type %T", task.Payload)
	}

	ctx, cancel := context.WithTimeout(ctx, h.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.URL, nil)
	if err != nil {
		return fmt.Errorf("dispatch: build url_fetch request: %w", err)
	}
	client, _ := h.clients.For(nil)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: fetch %s: %w", payload.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(h.maxContentLength)))
	if err != nil {
		return fmt.Errorf("dispatch: read url_fetch body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch: url_fetch %s returned status %d", payload.URL, resp.StatusCode)
	}

	if err := h.messages.SetURLContent(ctx, payload.MessageID, string(body)); err != nil {
		h.reportError("dispatch.url_fetch", errorledger.SeverityCritical, err)
		return fmt.Errorf("dispatch: store url_content: %w", err)
	}
	return nil
}

// SystemMaintenance is the queue.Handler for TypeSystemMaintenance; it
// looks up the action named by the payload in the registered maintenance
// funcs and runs it.
func (h *Handlers) SystemMaintenance(ctx context.Context, task *queue.Task) error {
	payload, ok := task.Payload.(SystemMaintenancePayload)
	if !ok {
		return fmt.Errorf("dispatch: system_maintenance payload has wrong type %T", task.Payload)
	}
	h.mu.RLock()
	fn, ok := h.maintenance[payload.Action]
	h.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("dispatch: no maintenance action registered for %q", payload.Action)
		h.reportError("dispatch.system_maintenance", errorledger.SeverityMedium, err)
		return err
	}
	return fn(ctx)
}
