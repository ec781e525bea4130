package relay

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/promptrelay/internal/utils"
)

// Credential is a username/password pair. It is forwarded and never stored.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialRelay forwards login attempts to the upstream identity service.
type CredentialRelay struct {
	endpoint string
	client   httpDoer
	logger   *zap.SugaredLogger
}

func NewCredentialRelay(cfg utils.UpstreamConfig, logger *zap.SugaredLogger) *CredentialRelay {
	if logger == nil {
		logger = utils.Logger().Sugar()
	}
	return &CredentialRelay{
		endpoint: cfg.IdentityURL,
		client:   newHTTPClient(cfg.Timeout),
		logger:   logger.Named("login"),
	}
}

// Login returns the identity service's 2xx response body unmodified.
// Failed attempts are reported once and never retried.
func (r *CredentialRelay) Login(ctx context.Context, cred Credential) (json.RawMessage, error) {
	if strings.TrimSpace(cred.Username) == "" || cred.Password == "" {
		return nil, newError(KindValidation, "Username and password are required", nil)
	}

	resp, err := postJSON(ctx, r.client, r.endpoint, "", cred)
	if err != nil {
		r.logger.Warnw("identity service unreachable", "username", cred.Username, "error", err)
		return nil, newError(KindUpstreamAuth, "identity service unavailable", err)
	}

	if !resp.ok() {
		detail := upstreamDetail(resp.status, resp.body)
		r.logger.Infow("identity service rejected login", "username", cred.Username, "status", resp.status)
		return nil, &Error{
			Kind:           KindUpstreamAuth,
			Message:        "Invalid username or password",
			UpstreamStatus: resp.status,
			Detail:         detail,
		}
	}

	if !json.Valid(resp.body) {
		r.logger.Warnw("identity service returned malformed body", "status", resp.status)
		return nil, &Error{
			Kind:           KindUpstreamAuth,
			Message:        "identity service returned malformed response",
			UpstreamStatus: resp.status,
		}
	}

	return json.RawMessage(resp.body), nil
}
