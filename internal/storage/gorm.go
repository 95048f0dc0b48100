package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

type fileRow struct {
	ID               string `gorm:"primaryKey"`
	Filename         string
	OriginalFilename string
	FileSize         int64
	PageCount        int
	MimeType         string
	Path             string
	UploadedAt       time.Time
}

func (fileRow) TableName() string { return "files" }

type sessionRow struct {
	ID          string `gorm:"primaryKey"`
	FileID      string `gorm:"index"`
	Token       string
	Status      string
	CallbackURL string
	CanEdit     bool
	CanDownload bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
	CompletedAt *time.Time
	EditedPath  string
}

func (sessionRow) TableName() string { return "edit_sessions" }

type imageRow struct {
	ID               string `gorm:"primaryKey"`
	SessionID        string `gorm:"index"`
	OriginalFilename string
	StoredFilename   string
	FileSize         int64
	MimeType         string
	Width            int
	Height           int
	ImageURL         string
	Path             string
	UploadedAt       time.Time
}

func (imageRow) TableName() string { return "session_images" }

type operationRow struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex:idx_session_order"`
	Order     int    `gorm:"column:operation_order;uniqueIndex:idx_session_order"`
	Type      string
	Data      []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (operationRow) TableName() string { return "operations" }

// GormStore persists to postgres through gorm
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to the database at dsn and migrates the schema
func OpenGorm(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open connection and migrates the schema
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&fileRow{}, &sessionRow{}, &imageRow{}, &operationRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (g *GormStore) CreateFile(ctx context.Context, f *File) error {
	row := fileRow{
		ID:               f.ID,
		Filename:         f.Filename,
		OriginalFilename: f.OriginalFilename,
		FileSize:         f.FileSize,
		PageCount:        f.PageCount,
		MimeType:         f.MimeType,
		Path:             f.Path,
		UploadedAt:       f.UploadedAt,
	}
	return g.db.WithContext(ctx).Create(&row).Error
}

func (g *GormStore) GetFile(ctx context.Context, id string) (*File, error) {
	var row fileRow
	if err := g.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &File{
		FileInfo: models.FileInfo{
			ID:               row.ID,
			Filename:         row.Filename,
			OriginalFilename: row.OriginalFilename,
			FileSize:         row.FileSize,
			PageCount:        row.PageCount,
			MimeType:         row.MimeType,
			UploadedAt:       row.UploadedAt,
		},
		Path: row.Path,
	}, nil
}

func toSessionRow(s *Session) sessionRow {
	return sessionRow{
		ID:          s.ID,
		FileID:      s.FileID,
		Token:       s.Token,
		Status:      s.Status,
		CallbackURL: s.CallbackURL,
		CanEdit:     s.Permissions.CanEdit,
		CanDownload: s.Permissions.CanDownload,
		ExpiresAt:   s.ExpiresAt,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
		EditedPath:  s.EditedPath,
	}
}

func (g *GormStore) CreateSession(ctx context.Context, s *Session) error {
	row := toSessionRow(s)
	return g.db.WithContext(ctx).Create(&row).Error
}

func (g *GormStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	if err := g.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &Session{
		ID:          row.ID,
		FileID:      row.FileID,
		Token:       row.Token,
		Status:      row.Status,
		CallbackURL: row.CallbackURL,
		Permissions: models.Permissions{CanEdit: row.CanEdit, CanDownload: row.CanDownload},
		ExpiresAt:   row.ExpiresAt,
		CreatedAt:   row.CreatedAt,
		CompletedAt: row.CompletedAt,
		EditedPath:  row.EditedPath,
	}, nil
}

func (g *GormStore) UpdateSession(ctx context.Context, s *Session) error {
	row := toSessionRow(s)
	res := g.db.WithContext(ctx).Save(&row)
	return res.Error
}

func (g *GormStore) AddImage(ctx context.Context, img *Image) error {
	row := imageRow{
		ID:               img.ID,
		SessionID:        img.SessionID,
		OriginalFilename: img.OriginalFilename,
		StoredFilename:   img.StoredFilename,
		FileSize:         img.FileSize,
		MimeType:         img.MimeType,
		Width:            img.Width,
		Height:           img.Height,
		ImageURL:         img.ImageURL,
		Path:             img.Path,
		UploadedAt:       img.UploadedAt,
	}
	return g.db.WithContext(ctx).Create(&row).Error
}

func (g *GormStore) GetImage(ctx context.Context, sessionID, imageID string) (*Image, error) {
	var row imageRow
	err := g.db.WithContext(ctx).First(&row, "id = ? AND session_id = ?", imageID, sessionID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &Image{
		ImageAsset: models.ImageAsset{
			ID:               row.ID,
			SessionID:        row.SessionID,
			OriginalFilename: row.OriginalFilename,
			StoredFilename:   row.StoredFilename,
			FileSize:         row.FileSize,
			MimeType:         row.MimeType,
			Width:            row.Width,
			Height:           row.Height,
			UploadedAt:       row.UploadedAt,
			ImageURL:         row.ImageURL,
		},
		Path: row.Path,
	}, nil
}

// AppendOperation locks the session row so concurrent appends get distinct orders
func (g *GormStore) AppendOperation(ctx context.Context, sessionID string, op models.OperationRequest) (*models.Operation, error) {
	data, err := json.Marshal(op.OperationData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation data: %w", err)
	}

	var record models.Operation
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session sessionRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&session, "id = ?", sessionID).Error; err != nil {
			return notFound(err)
		}
		var last int
		if err := tx.Model(&operationRow{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(operation_order), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		row := operationRow{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Order:     last + 1,
			Type:      string(op.OperationType),
			Data:      data,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		record = models.Operation{
			ID:        row.ID,
			SessionID: sessionID,
			Order:     row.Order,
			Type:      op.OperationType,
			Data:      op.OperationData,
			CreatedAt: row.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (g *GormStore) ListOperations(ctx context.Context, sessionID string) ([]models.Operation, error) {
	var rows []operationRow
	err := g.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("operation_order").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ops := make([]models.Operation, 0, len(rows))
	for _, row := range rows {
		var data models.OperationData
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode operation %s: %w", row.ID, err)
		}
		ops = append(ops, models.Operation{
			ID:        row.ID,
			SessionID: row.SessionID,
			Order:     row.Order,
			Type:      models.OperationType(row.Type),
			Data:      data,
			CreatedAt: row.CreatedAt,
		})
	}
	return ops, nil
}

func (g *GormStore) DeleteOperation(ctx context.Context, sessionID, operationID string) error {
	res := g.db.WithContext(ctx).Where("id = ? AND session_id = ?", operationID, sessionID).Delete(&operationRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) ClearOperations(ctx context.Context, sessionID string) (int, error) {
	res := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&operationRow{})
	return int(res.RowsAffected), res.Error
}
