// Package storage persists uploaded files, editing sessions, session images
// and the append-only operation log behind the development server.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

var ErrNotFound = errors.New("not found")

// File is an uploaded PDF and where it is stored
type File struct {
	models.FileInfo
	Path string `json:"-"`
}

// Session is an editing session on a file
type Session struct {
	ID          string
	FileID      string
	Token       string
	Status      string
	CallbackURL string
	Permissions models.Permissions
	ExpiresAt   time.Time
	CreatedAt   time.Time
	CompletedAt *time.Time
	EditedPath  string
}

// Image is an image uploaded to a session
type Image struct {
	models.ImageAsset
	Path string `json:"-"`
}

// Store is implemented by the in-memory SessionStore and the postgres GormStore
type Store interface {
	CreateFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, id string) (*File, error)
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	AddImage(ctx context.Context, img *Image) error
	GetImage(ctx context.Context, sessionID, imageID string) (*Image, error)
	// AppendOperation assigns the next order in the session and persists op
	AppendOperation(ctx context.Context, sessionID string, op models.OperationRequest) (*models.Operation, error)
	ListOperations(ctx context.Context, sessionID string) ([]models.Operation, error)
	DeleteOperation(ctx context.Context, sessionID, operationID string) error
	ClearOperations(ctx context.Context, sessionID string) (int, error)
}

// SessionStore keeps everything in memory
type SessionStore struct {
	mu         sync.RWMutex
	files      map[string]*File
	sessions   map[string]*Session
	images     map[string]*Image
	operations map[string][]models.Operation
}

func New() *SessionStore {
	return &SessionStore{
		files:      make(map[string]*File),
		sessions:   make(map[string]*Session),
		images:     make(map[string]*Image),
		operations: make(map[string][]models.Operation),
	}
}

func (s *SessionStore) CreateFile(ctx context.Context, f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *f
	s.files[f.ID] = &copied
	return nil
}

func (s *SessionStore) GetFile(ctx context.Context, id string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, exists := s.files[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *f
	return &copied, nil
}

func (s *SessionStore) CreateSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; !exists {
		return ErrNotFound
	}
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *SessionStore) AddImage(ctx context.Context, img *Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *img
	s.images[img.ID] = &copied
	return nil
}

func (s *SessionStore) GetImage(ctx context.Context, sessionID, imageID string) (*Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, exists := s.images[imageID]
	if !exists || img.SessionID != sessionID {
		return nil, ErrNotFound
	}
	copied := *img
	return &copied, nil
}

func (s *SessionStore) AppendOperation(ctx context.Context, sessionID string, op models.OperationRequest) (*models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sessionID]; !exists {
		return nil, ErrNotFound
	}
	last := 0
	for _, existing := range s.operations[sessionID] {
		last = max(last, existing.Order)
	}
	record := models.Operation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Order:     last + 1,
		Type:      op.OperationType,
		Data:      op.OperationData,
		CreatedAt: time.Now().UTC(),
	}
	s.operations[sessionID] = append(s.operations[sessionID], record)
	return &record, nil
}

func (s *SessionStore) ListOperations(ctx context.Context, sessionID string) ([]models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := append([]models.Operation(nil), s.operations[sessionID]...)
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Order < ops[j].Order })
	return ops, nil
}

func (s *SessionStore) DeleteOperation(ctx context.Context, sessionID, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.operations[sessionID]
	for i, op := range ops {
		if op.ID == operationID {
			s.operations[sessionID] = append(ops[:i:i], ops[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *SessionStore) ClearOperations(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.operations[sessionID])
	delete(s.operations, sessionID)
	return n, nil
}
