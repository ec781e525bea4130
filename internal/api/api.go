package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/promptrelay/internal/auth"
	"github.com/wuwenbin0122/promptrelay/internal/models"
	"github.com/wuwenbin0122/promptrelay/internal/relay"
	"github.com/wuwenbin0122/promptrelay/internal/utils"
)

const defaultMaxBodyBytes = 1 << 20

type credentialRelay interface {
	Login(ctx context.Context, cred relay.Credential) (json.RawMessage, error)
}

type promptRelay interface {
	Relay(ctx context.Context, turn relay.Turn) (*models.Reply, error)
}

type Handler struct {
	credentials  credentialRelay
	prompts      promptRelay
	maxBodyBytes int64
	logger       *zap.SugaredLogger
}

func NewHandler(credentials credentialRelay, prompts promptRelay, maxBodyBytes int64, logger *zap.SugaredLogger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = utils.Logger().Sugar()
	}
	return &Handler{
		credentials:  credentials,
		prompts:      prompts,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.Named("api"),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	for _, prefix := range []string{"", "/api"} {
		router.POST(prefix+"/login", h.handleLogin)
		router.POST(prefix+"/prompt", h.handlePrompt)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type promptRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if !h.bindJSON(c, &req) {
		return
	}

	payload, err := h.credentials.Login(c.Request.Context(), relay.Credential{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

func (h *Handler) handlePrompt(c *gin.Context) {
	// The token is checked before the body is even read.
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		h.writeError(c, &relay.Error{Kind: relay.KindAuthentication, Message: "No token provided", Err: err})
		return
	}

	var req promptRequest
	if !h.bindJSON(c, &req) {
		return
	}

	reply, err := h.prompts.Relay(c.Request.Context(), relay.Turn{
		Token:     token,
		Model:     req.Model,
		Messages:  req.Messages,
		RequestID: RequestIDFrom(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, reply)
}

func (h *Handler) bindJSON(c *gin.Context, out any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	if err := c.ShouldBindJSON(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return false
		}
		h.writeError(c, &relay.Error{Kind: relay.KindValidation, Message: "invalid payload", Detail: err.Error()})
		return false
	}
	return true
}

// statusFor maps a relay error kind to the HTTP status shown to the client.
func statusFor(err *relay.Error) int {
	switch err.Kind {
	case relay.KindValidation:
		return http.StatusBadRequest
	case relay.KindAuthentication, relay.KindUpstreamAuth:
		return http.StatusUnauthorized
	case relay.KindUpstreamCompletion:
		if err.UpstreamStatus == http.StatusUnauthorized || err.UpstreamStatus == http.StatusForbidden {
			return http.StatusUnauthorized
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var relayErr *relay.Error
	if !errors.As(err, &relayErr) {
		h.logger.Errorw("unclassified error", "request_id", RequestIDFrom(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unknown error occurred"})
		return
	}

	status := statusFor(relayErr)
	body := gin.H{"error": relayErr.Message, "kind": relayErr.Kind.String()}
	// Transport and storage causes stay in the logs.
	if relayErr.Detail != "" && relayErr.Kind != relay.KindUpstreamUnavailable && relayErr.Kind != relay.KindPersistence {
		body["details"] = relayErr.Detail
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warnw("request failed", "request_id", RequestIDFrom(c), "status", status, "error", err)
	}

	c.JSON(status, body)
}
