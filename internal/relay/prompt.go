package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/promptrelay/internal/auth"
	"github.com/wuwenbin0122/promptrelay/internal/models"
	"github.com/wuwenbin0122/promptrelay/internal/utils"
)

const defaultWriteTimeout = 5 * time.Second

// AuditStore durably appends exchange records. Implementations must be safe
// for concurrent use.
type AuditStore interface {
	Append(ctx context.Context, record *models.AuditRecord) error
}

// Turn is one self-contained chat request: the full prior history plus the new
// user message as the final element.
type Turn struct {
	Token     string
	Model     string
	Messages  []models.ChatMessage
	RequestID string
}

// PromptRelay forwards chat turns to the completion service and records every
// exchange. It keeps no conversation state between calls.
type PromptRelay struct {
	endpoint     string
	preamble     string
	placeholder  string
	client       httpDoer
	store        AuditStore
	writeTimeout time.Duration
	now          func() time.Time
	logger       *zap.SugaredLogger
}

func NewPromptRelay(cfg utils.UpstreamConfig, store AuditStore, writeTimeout time.Duration, logger *zap.SugaredLogger) *PromptRelay {
	if logger == nil {
		logger = utils.Logger().Sugar()
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = "No response"
	}

	return &PromptRelay{
		endpoint:     cfg.CompletionURL,
		preamble:     strings.TrimSpace(cfg.SystemPreamble),
		placeholder:  placeholder,
		client:       newHTTPClient(cfg.Timeout),
		store:        store,
		writeTimeout: writeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.Named("prompt"),
	}
}

// Relay sends turn upstream and returns the assistant reply. The exchange is
// persisted before the reply is returned; a failed write fails the turn.
func (r *PromptRelay) Relay(ctx context.Context, turn Turn) (*models.Reply, error) {
	token := strings.TrimSpace(turn.Token)
	if token == "" {
		return nil, newError(KindAuthentication, "No token provided", auth.ErrMissingToken)
	}

	model := strings.TrimSpace(turn.Model)
	if model == "" || len(turn.Messages) == 0 {
		return nil, newError(KindValidation, "Model and messages are required", nil)
	}

	if err := validateMessages(turn.Messages); err != nil {
		return nil, err
	}

	prompt := models.Prompt{Model: model, Messages: r.compose(turn.Messages)}
	subject := auth.Subject(token)
	logger := r.logger.With("request_id", turn.RequestID, "model", model)
	if subject != "" {
		logger = logger.With("subject", subject)
	}

	resp, err := postJSON(ctx, r.client, r.endpoint, token, prompt)
	if errors.Is(err, errUpstreamBodyTooLarge) {
		logger.Warnw("completion response too large", "status", resp.status, "error", err)
		return nil, &Error{
			Kind:           KindUpstreamCompletion,
			Message:        "External API response too large",
			UpstreamStatus: resp.status,
			Detail:         err.Error(),
			Err:            err,
		}
	}
	if err != nil {
		logger.Warnw("completion service unreachable", "error", err)
		return nil, newError(KindUpstreamUnavailable, "completion service unavailable", err)
	}

	if !resp.ok() {
		detail := upstreamDetail(resp.status, resp.body)
		logger.Warnw("completion service rejected prompt", "status", resp.status, "detail", detail)
		return nil, &Error{
			Kind:           KindUpstreamCompletion,
			Message:        fmt.Sprintf("External API returned status: %d", resp.status),
			UpstreamStatus: resp.status,
			Detail:         detail,
		}
	}

	reply, found := r.parseReply(resp.body)
	if !found {
		logger.Warnw("completion response had no message, using placeholder", "status", resp.status)
	}

	record := &models.AuditRecord{
		ID:        uuid.NewString(),
		RequestID: turn.RequestID,
		Subject:   subject,
		Prompt:    prompt,
		Response:  rawResponse(resp.body),
		Timestamp: r.now(),
	}

	// The upstream call already happened, so the write must not be abandoned
	// when the caller goes away.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.store.Append(writeCtx, record); err != nil {
		logger.Errorw("failed to persist exchange", "record_id", record.ID, "error", err)
		return nil, newError(KindPersistence, "failed to persist exchange", err)
	}

	logger.Debugw("exchange recorded", "record_id", record.ID, "messages", len(prompt.Messages))

	return reply, nil
}

// compose prepends the system preamble to the client's history.
func (r *PromptRelay) compose(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages)+1)
	if r.preamble != "" {
		out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: r.preamble})
	}
	return append(out, messages...)
}

// completionResponse is the only accepted upstream success schema:
// {"message":{"role":"assistant","content":"..."}}.
type completionResponse struct {
	Message *struct {
		Role    models.Role `json:"role"`
		Content string      `json:"content"`
	} `json:"message"`
}

func (r *PromptRelay) parseReply(body []byte) (*models.Reply, bool) {
	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Message == nil || parsed.Message.Content == "" {
		return &models.Reply{Role: models.RoleAssistant, Content: r.placeholder}, false
	}

	role := parsed.Message.Role
	if role == "" {
		role = models.RoleAssistant
	}
	return &models.Reply{Role: role, Content: parsed.Message.Content}, true
}

func validateMessages(messages []models.ChatMessage) error {
	for i, msg := range messages {
		if !msg.Role.Valid() {
			return newError(KindValidation, fmt.Sprintf("messages[%d]: invalid role %q", i, msg.Role), nil)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return newError(KindValidation, fmt.Sprintf("messages[%d]: content is required", i), nil)
		}
	}
	if last := messages[len(messages)-1]; last.Role != models.RoleUser {
		return newError(KindValidation, "last message must be from user", nil)
	}
	return nil
}

// rawResponse keeps valid JSON bodies verbatim and wraps anything else as a
// JSON string so the record always holds a JSON value.
func rawResponse(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, err := json.Marshal(string(body))
	if err != nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(wrapped)
}
