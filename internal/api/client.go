// Package api is the HTTP client for the remote test-case generation service.
//
// The service owns everything heavy: JIRA access, OCR, LLM generation, and
// persistence. This client only shapes requests, attaches the bearer token,
// and maps failures to user-presentable errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sdetpro/tcgen/internal/auth"
	"github.com/sdetpro/tcgen/internal/models"
)

// DefaultBaseURL is the local development endpoint used when no base URL is
// configured.
const DefaultBaseURL = "http://localhost:3001/api"

// fallbackMessage is shown when a failed call carries no server message.
const fallbackMessage = "request failed, please try again"

// ErrUnauthorized is returned when the server rejects the bearer token.
// The client clears persisted credentials before returning it; callers only
// need to tell the user to log in again.
var ErrUnauthorized = errors.New("not authenticated")

// APIError is a non-2xx response from the service, carrying the server's
// reported message when one was parseable.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// Client talks to the remote service. Credentials are an injected dependency;
// the client never touches ambient global state.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *auth.Store
	log     *slog.Logger
}

// NewClient creates a Client. An empty baseURL falls back to DefaultBaseURL.
func NewClient(baseURL string, creds *auth.Store) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
		creds:   creds,
		log:     slog.Default(),
	}
}

// --- Auth ---

// Login exchanges email/password for credentials and persists them. The call
// is unauthenticated: a 401 here means bad credentials, not an expired
// session, and surfaces the server's message like any other API error.
func (c *Client) Login(ctx context.Context, email, password string) (*auth.Credentials, error) {
	body := map[string]string{"email": email, "password": password}

	var resp struct {
		Data struct {
			AccessToken string      `json:"accessToken"`
			User        models.User `json:"user"`
		} `json:"data"`
	}
	if err := c.doJSONUnauth(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}

	creds := auth.Credentials{AccessToken: resp.Data.AccessToken, User: resp.Data.User}
	if err := c.creds.Save(creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// --- Generations ---

// generationRequest is the session-reference payload shared by prelight and
// generate. The session id is omitted entirely when no images are attached.
type generationRequest struct {
	IssueKey       string `json:"issueKey"`
	ImageSessionID string `json:"imageSessionId,omitempty"`
}

// Prelight requests a cost/feasibility estimate for the issue key.
func (c *Client) Prelight(ctx context.Context, issueKey, imageSessionID string) (*models.PrelightEstimate, error) {
	req := generationRequest{IssueKey: issueKey, ImageSessionID: imageSessionID}

	var est models.PrelightEstimate
	if err := c.doJSON(ctx, http.MethodPost, "/generations/prelight", req, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

// GenerateTestCases runs full generation for the issue key.
func (c *Client) GenerateTestCases(ctx context.Context, issueKey, imageSessionID string) (*models.GenerationResult, error) {
	req := generationRequest{IssueKey: issueKey, ImageSessionID: imageSessionID}

	var resp struct {
		Data models.GenerationResult `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/generations/testcases", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// --- Image sessions ---

// UploadedImage is the per-file OCR report from the upload endpoint.
type UploadedImage struct {
	Filename         string   `json:"filename"`
	DetectedJiraKeys []string `json:"detectedJiraKeys"`
	OCRConfidence    float64  `json:"ocrConfidence"`
}

// UploadResult is the decoded upload-images response.
type UploadResult struct {
	SessionID        string          `json:"sessionId"`
	Images           []UploadedImage `json:"images"`
	DetectedJiraKeys []string        `json:"detectedJiraKeys"`
}

// UploadImages posts the files as multipart images[] and returns the server's
// session id plus per-image OCR metadata. Each file's client token is sent as
// a repeated imageToken field, in file order, so the server can echo it back.
func (c *Client) UploadImages(ctx context.Context, images []*models.AttachedImage) (*UploadResult, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, img := range images {
		part, err := w.CreateFormFile("images", img.Filename)
		if err != nil {
			return nil, fmt.Errorf("build upload payload: %w", err)
		}
		// Upload from the preview snapshot: it is the exact bytes the user
		// selected, even if the original file changed since.
		src := img.PreviewPath
		if src == "" {
			src = img.Path
		}
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", img.Filename, err)
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", img.Filename, err)
		}
		if err := w.WriteField("imageToken", img.UploadToken); err != nil {
			return nil, fmt.Errorf("build upload payload: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build upload payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations/upload-images", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp struct {
		Data UploadResult `json:"data"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ReleaseImageSession asks the server to drop the session's uploaded images.
// Callers treat failures as background noise, never user-facing.
func (c *Client) ReleaseImageSession(ctx context.Context, sessionID string) error {
	path := "/generations/image-sessions/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// --- Plumbing ---

// doJSON marshals body, performs an authenticated request, and decodes a 2xx
// response into out (which may be nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	return c.sendJSON(ctx, method, path, body, out, true)
}

// doJSONUnauth is doJSON without the bearer token or the 401 session-expiry
// handling. Only the login call uses it.
func (c *Client) doJSONUnauth(ctx context.Context, method, path string, body, out any) error {
	return c.sendJSON(ctx, method, path, body, out, false)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any, withAuth bool) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out, withAuth)
}

// do performs an authenticated request: bearer token attached, 401 treated as
// an expired session.
func (c *Client) do(req *http.Request, out any) error {
	return c.send(req, out, true)
}

// send executes the request and maps failures. On authenticated calls a 401
// clears persisted credentials before surfacing ErrUnauthorized; on
// unauthenticated calls it falls through to the ordinary APIError path, so
// the server's message survives.
func (c *Client) send(req *http.Request, out any, withAuth bool) error {
	if withAuth {
		if token := c.creds.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Message: fallbackMessage}
	}
	defer resp.Body.Close()

	if withAuth && resp.StatusCode == http.StatusUnauthorized {
		if err := c.creds.Clear(); err != nil {
			c.log.Warn("clear credentials after 401", "error", err)
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: serverMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fallbackMessage}
	}
	return nil
}

// serverMessage pulls the error text out of an error response body, falling
// back to a fixed message when none is present.
func serverMessage(r io.Reader) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r).Decode(&body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fallbackMessage
}
