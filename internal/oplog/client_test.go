package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

func TestAppendOperationSendsTokenAndBody(t *testing.T) {
	var got models.OperationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/s1/operations" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if token := r.URL.Query().Get("session_token"); token != "tok" {
			t.Errorf("Expected session_token tok, got %q", token)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(models.Operation{ID: "op1", SessionID: "s1", Order: 1, Type: got.OperationType, Data: got.OperationData})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/v1", "key", time.Second)
	op := models.OperationRequest{
		OperationType: models.OpAddImage,
		OperationData: models.OperationData{Page: 0, ImageID: "img1", Position: &models.Position{X: 1, Y: 2, Width: 3, Height: 4}},
	}
	record, err := c.AppendOperation(context.Background(), "s1", "tok", op)
	if err != nil {
		t.Fatalf("AppendOperation: %v", err)
	}
	if record.Order != 1 || record.ID != "op1" {
		t.Errorf("Unexpected record %+v", record)
	}
	if got.OperationType != models.OpAddImage || got.OperationData.ImageID != "img1" {
		t.Errorf("Unexpected request body %+v", got)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		auth      bool
		retryable bool
	}{
		{name: "unauthorized is auth", status: http.StatusUnauthorized, auth: true},
		{name: "forbidden is auth", status: http.StatusForbidden, auth: true},
		{name: "server error is retryable", status: http.StatusBadGateway, retryable: true},
		{name: "too many requests is retryable", status: http.StatusTooManyRequests, retryable: true},
		{name: "not found is neither", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"detail":"nope"}`))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", time.Second)
			_, err := c.ListOperations(context.Background(), "s1", "tok")
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := errors.Is(err, ErrAuth); got != tt.auth {
				t.Errorf("errors.Is(ErrAuth) = %v, want %v (%v)", got, tt.auth, err)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v (%v)", got, tt.retryable, err)
			}
			var apiErr *APIError
			if !tt.auth && !tt.retryable && (!errors.As(err, &apiErr) || apiErr.Detail != "nope") {
				t.Errorf("Expected APIError with detail, got %v", err)
			}
		})
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", time.Second)
	_, err := c.ListOperations(context.Background(), "s1", "tok")
	if !IsRetryable(err) {
		t.Fatalf("Expected retryable network error, got %v", err)
	}
}

func TestUploadFileValidatesBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second)
	_, err := c.UploadFile(context.Background(), "notes.txt", []byte("hello world"))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if called {
		t.Error("Server must not be called for invalid files")
	}
}

func TestCheckUsable(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		info     models.SessionInfo
		expected error
	}{
		{name: "active", info: models.SessionInfo{Status: models.SessionActive, ExpiresAt: now.Add(time.Hour)}},
		{name: "completed", info: models.SessionInfo{Status: models.SessionCompleted, ExpiresAt: now.Add(time.Hour)}, expected: ErrSessionCompleted},
		{name: "expired", info: models.SessionInfo{Status: models.SessionActive, ExpiresAt: now.Add(-time.Minute)}, expected: ErrSessionExpired},
		{name: "expires exactly now", info: models.SessionInfo{Status: models.SessionActive, ExpiresAt: now}, expected: ErrSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckUsable(&tt.info, now)
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestValidateImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000000000000000")
	tests := []struct {
		name     string
		filename string
		data     []byte
		valid    bool
	}{
		{name: "png", filename: "logo.png", data: png, valid: true},
		{name: "wrong extension", filename: "logo.bmp", data: png},
		{name: "not an image", filename: "logo.png", data: []byte("plain text here")},
		{name: "empty", filename: "logo.png", data: nil},
		{name: "too large", filename: "logo.png", data: append(png, make([]byte, MaxImageSize)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImage(tt.filename, tt.data)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateImage(%s) = %v, valid want %v", tt.filename, err, tt.valid)
			}
		})
	}
}
