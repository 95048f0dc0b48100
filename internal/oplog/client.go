package oplog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

// Client talks to the editing backend: file upload, sessions and the
// append-only operation log of each session.
type Client struct {
	BaseURL    string
	APIKey     string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// request describes one API call
type request struct {
	op          string
	method      string
	path        string
	token       string
	apiKey      bool
	body        io.Reader
	contentType string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", r.op, err)
	}
	return nil
}

// send performs the call and returns the response only for 2xx statuses
func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	u := c.BaseURL + r.path
	if r.token != "" {
		u += "?session_token=" + url.QueryEscape(r.token)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", r.op, err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.apiKey {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Op: r.op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(r.op, resp.StatusCode, readDetail(resp.Body))
	}
	return resp, nil
}

// readDetail extracts {"detail": "..."} from an error body, falling back to the raw text
func readDetail(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 64*1024))
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(raw))
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

func multipartBody(field, filename string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filepath.Base(filename))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// UploadFile validates and uploads a PDF
func (c *Client) UploadFile(ctx context.Context, filename string, data []byte) (*models.FileInfo, error) {
	if err := ValidatePDF(filename, data); err != nil {
		return nil, err
	}
	body, contentType, err := multipartBody("file", filename, data)
	if err != nil {
		return nil, err
	}

	var info models.FileInfo
	err = c.do(ctx, request{
		op:          "upload file",
		method:      http.MethodPost,
		path:        "/files/upload",
		apiKey:      true,
		body:        body,
		contentType: contentType,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetFile fetches metadata of an uploaded file
func (c *Client) GetFile(ctx context.Context, fileID string) (*models.FileInfo, error) {
	var info models.FileInfo
	err := c.do(ctx, request{
		op:     "get file",
		method: http.MethodGet,
		path:   "/files/" + url.PathEscape(fileID),
		apiKey: true,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateSession opens an editing session on an uploaded file
func (c *Client) CreateSession(ctx context.Context, fileID string, req models.SessionRequest) (*models.SessionCreated, error) {
	if req.ExpiresInHours <= 0 {
		req.ExpiresInHours = 24
	}
	body, err := jsonBody(req)
	if err != nil {
		return nil, err
	}

	var created models.SessionCreated
	err = c.do(ctx, request{
		op:          "create session",
		method:      http.MethodPost,
		path:        "/files/" + url.PathEscape(fileID) + "/sessions",
		apiKey:      true,
		body:        body,
		contentType: "application/json",
	}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// SessionInfo fetches the session descriptor
func (c *Client) SessionInfo(ctx context.Context, sessionID, token string) (*models.SessionInfo, error) {
	var info models.SessionInfo
	err := c.do(ctx, request{
		op:     "session info",
		method: http.MethodGet,
		path:   "/sessions/" + url.PathEscape(sessionID) + "/info",
		token:  token,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CheckUsable refuses completed and expired sessions
func CheckUsable(info *models.SessionInfo, now time.Time) error {
	if info.Status == models.SessionCompleted {
		return ErrSessionCompleted
	}
	if !info.ExpiresAt.IsZero() && !now.Before(info.ExpiresAt) {
		return ErrSessionExpired
	}
	return nil
}

// UploadImage validates and uploads an image to a session
func (c *Client) UploadImage(ctx context.Context, sessionID, token, filename string, data []byte) (*models.ImageAsset, error) {
	if err := ValidateImage(filename, data); err != nil {
		return nil, err
	}
	body, contentType, err := multipartBody("image", filename, data)
	if err != nil {
		return nil, err
	}

	var asset models.ImageAsset
	err = c.do(ctx, request{
		op:          "upload image",
		method:      http.MethodPost,
		path:        "/sessions/" + url.PathEscape(sessionID) + "/images",
		token:       token,
		body:        body,
		contentType: contentType,
	}, &asset)
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// AppendOperation appends one operation to the session log
func (c *Client) AppendOperation(ctx context.Context, sessionID, token string, op models.OperationRequest) (*models.Operation, error) {
	body, err := jsonBody(op)
	if err != nil {
		return nil, err
	}

	var record models.Operation
	err = c.do(ctx, request{
		op:          "append operation",
		method:      http.MethodPost,
		path:        "/sessions/" + url.PathEscape(sessionID) + "/operations",
		token:       token,
		body:        body,
		contentType: "application/json",
	}, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListOperations returns the whole session log ordered by operation order
func (c *Client) ListOperations(ctx context.Context, sessionID, token string) ([]models.Operation, error) {
	var list models.OperationList
	err := c.do(ctx, request{
		op:     "list operations",
		method: http.MethodGet,
		path:   "/sessions/" + url.PathEscape(sessionID) + "/operations",
		token:  token,
	}, &list)
	if err != nil {
		return nil, err
	}
	return list.Operations, nil
}

// ClearOperations wipes the session log
func (c *Client) ClearOperations(ctx context.Context, sessionID, token string) error {
	return c.do(ctx, request{
		op:     "clear operations",
		method: http.MethodDelete,
		path:   "/sessions/" + url.PathEscape(sessionID) + "/operations",
		token:  token,
	}, nil)
}

// DeleteOperation removes a single operation from the session log
func (c *Client) DeleteOperation(ctx context.Context, sessionID, token, operationID string) error {
	return c.do(ctx, request{
		op:     "delete operation",
		method: http.MethodDelete,
		path:   "/sessions/" + url.PathEscape(sessionID) + "/operations/" + url.PathEscape(operationID),
		token:  token,
	}, nil)
}

// Commit compiles the session log into an edited PDF
func (c *Client) Commit(ctx context.Context, fileID, sessionID, token string) (*models.CommitResult, error) {
	var result models.CommitResult
	err := c.do(ctx, request{
		op:     "commit session",
		method: http.MethodPost,
		path:   "/files/" + url.PathEscape(fileID) + "/sessions/" + url.PathEscape(sessionID) + "/commit",
		token:  token,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DownloadEdited fetches the compiled PDF of a committed session
func (c *Client) DownloadEdited(ctx context.Context, sessionID, token string) ([]byte, error) {
	return c.download(ctx, request{
		op:     "download edited pdf",
		method: http.MethodGet,
		path:   "/sessions/" + url.PathEscape(sessionID) + "/download",
		token:  token,
	})
}

// DownloadOriginal fetches the uploaded PDF
func (c *Client) DownloadOriginal(ctx context.Context, fileID string) ([]byte, error) {
	return c.download(ctx, request{
		op:     "download original pdf",
		method: http.MethodGet,
		path:   "/files/" + url.PathEscape(fileID) + "/download",
		apiKey: true,
	})
}

// FetchImage downloads image bytes. Relative URLs are resolved against the API host.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	u, err := c.resolve(imageURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Op: "fetch image", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetch image", resp.StatusCode, readDetail(resp.Body))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize))
	if err != nil {
		return nil, &NetworkError{Op: "fetch image", Err: err}
	}
	return data, nil
}

func (c *Client) resolve(ref string) (string, error) {
	target, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image url %q: %w", ref, err)
	}
	if target.IsAbs() {
		return ref, nil
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	return base.ResolveReference(target).String(), nil
}

func (c *Client) download(ctx context.Context, r request) ([]byte, error) {
	resp, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: r.op, Err: err}
	}
	if len(data) == 0 {
		return nil, errors.New(r.op + ": empty response")
	}
	return data, nil
}
