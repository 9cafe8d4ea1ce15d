package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/calorily/internal/apperror"
)

// maxErrorBody caps how much of a response we read looking for an error.
const maxErrorBody = 64 * 1024

// Client is the HTTP implementation of Submitter.
//
// WIRE FORMAT:
//
//	POST {baseURL}/meals
//	Authorization: Bearer <token>
//	{"meal_id": "...", "b64_img": "<raw base64, no data: prefix>"}
//
// A 2xx response without an "error" field is an acknowledgment.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Submitter = (*Client)(nil)

// NewClient creates a client. A zero timeout means 30 seconds.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type submitBody struct {
	MealID string `json:"meal_id"`
	B64Img string `json:"b64_img"`
}

// responseBody covers both shapes the service uses for errors:
// {"error": "text"} and {"error": {"message": "text"}}, plus a top-level
// "message".
type responseBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func (r responseBody) errorMessage() (string, bool) {
	raw := bytes.TrimSpace(r.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return "", false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return r.Message, true
		}
		return text, true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	return r.Message, true
}

// Submit uploads req.Image for analysis.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) error {
	payload, err := json.Marshal(submitBody{
		MealID: req.MealID,
		B64Img: base64.StdEncoding.EncodeToString(req.Image),
	})
	if err != nil {
		return apperror.Rejected(fmt.Sprintf("encoding upload: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/meals", bytes.NewReader(payload))
	if err != nil {
		return apperror.Rejected(fmt.Sprintf("building upload request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Shutdown isn't a network fault; let the caller see the context error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperror.Transient(err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	c.logger.Debug("analysis upload",
		slog.String("meal_id", req.MealID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if isTransientStatus(resp.StatusCode) {
		return apperror.Transient(fmt.Errorf("analysis service returned %d", resp.StatusCode))
	}
	if readErr != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return apperror.Transient(fmt.Errorf("reading upload response: %w", readErr))
	}

	var parsed responseBody
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := parsed.errorMessage()
		if msg == "" && decodeErr == nil {
			msg = parsed.Message
		}
		return apperror.Rejected(msg)
	}

	// An acknowledgment we can't parse is treated as a refusal.
	if decodeErr != nil && len(bytes.TrimSpace(body)) > 0 {
		return apperror.Rejected("")
	}
	if msg, ok := parsed.errorMessage(); ok {
		return apperror.Rejected(msg)
	}
	return nil
}

// isTransientStatus reports whether a status code means "try again later".
func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}
