package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quizpilot/internal/domain"
	"quizpilot/internal/retry"
)

// SubmitResult is the quiz server's verdict on one submission. Correct is a
// tri-state: a response that carries no verdict at all decodes to nil, which
// the orchestrator treats as ambiguous.
type SubmitResult struct {
	Correct *bool  `json:"correct"`
	NextURL string `json:"url,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// submission is the wire payload the quiz server expects.
type submission struct {
	Email  string        `json:"email"`
	Secret string        `json:"secret"`
	URL    string        `json:"url"`
	Answer domain.Answer `json:"answer"`
}

// SubmitClient posts normalized answers to the quiz server.
type SubmitClient struct {
	httpClient *http.Client
	email      string
	secret     string
}

// NewSubmitClient creates a submit client with the given credentials and
// per-request timeout.
func NewSubmitClient(email, secret string, timeout time.Duration) *SubmitClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SubmitClient{
		httpClient: &http.Client{Timeout: timeout},
		email:      email,
		secret:     secret,
	}
}

// Submit posts answer for quizURL to the quiz server's submit endpoint.
// Errors that cannot succeed on retry (client-side rejections) are wrapped
// with retry.Permanent; everything else is transient.
func (c *SubmitClient) Submit(ctx context.Context, quizURL string, answer domain.Answer) (SubmitResult, error) {
	endpoint, err := SubmitEndpoint(quizURL)
	if err != nil {
		return SubmitResult{}, retry.Permanent(fmt.Errorf("derive submit endpoint: %w", err))
	}

	body, err := json.Marshal(submission{
		Email:  c.email,
		Secret: c.secret,
		URL:    quizURL,
		Answer: answer,
	})
	if err != nil {
		return SubmitResult{}, retry.Permanent(fmt.Errorf("encode submission: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, retry.Permanent(fmt.Errorf("build submit request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("post submission: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("read submission response: %w", err)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("submit endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if retryableStatus(resp.StatusCode) {
			return SubmitResult{}, err
		}
		return SubmitResult{}, retry.Permanent(err)
	}

	var result SubmitResult
	if err := json.Unmarshal(payload, &result); err != nil {
		// Malformed-but-retryable: proxies and overloaded servers emit
		// non-JSON bodies.
		return SubmitResult{}, fmt.Errorf("decode submission response: %w", err)
	}
	return result, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// SubmitEndpoint derives the submit URL as the quiz URL's sibling path
// "submit": https://host/q/abc -> https://host/q/submit.
func SubmitEndpoint(quizURL string) (string, error) {
	u, err := url.Parse(quizURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("quiz url %q is not absolute", quizURL)
	}
	path := u.Path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[:idx]
	}
	u.Path = path + "/submit"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// ResolveNextURL resolves a possibly-relative follow-up URL against the
// current quiz URL.
func ResolveNextURL(currentURL, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return ""
	}
	base, err := url.Parse(currentURL)
	if err != nil {
		return next
	}
	ref, err := url.Parse(next)
	if err != nil {
		return next
	}
	return base.ResolveReference(ref).String()
}
