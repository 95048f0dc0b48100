package editor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
	"github.com/lehigh-university-libraries/pdfstamp/internal/replay"
)

// SessionSource reads a session and its operation log
type SessionSource interface {
	SessionInfo(ctx context.Context, sessionID, token string) (*models.SessionInfo, error)
	ListOperations(ctx context.Context, sessionID, token string) ([]models.Operation, error)
}

// Restore loads an existing session into state: completed and expired
// sessions are refused, otherwise the operation log is folded into the
// placed images.
func Restore(ctx context.Context, src SessionSource, state *State, sessionID, token string, now time.Time) (*models.SessionInfo, error) {
	info, err := src.SessionInfo(ctx, sessionID, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if err := oplog.CheckUsable(info, now); err != nil {
		return info, err
	}

	ops, err := src.ListOperations(ctx, sessionID, token)
	if err != nil {
		return info, fmt.Errorf("failed to load operations of session %s: %w", sessionID, err)
	}

	images := replay.Fold(ops)
	for i := range images {
		if images[i].SourceURL == "" {
			images[i].SourceURL = models.ImageURL(sessionID, images[i].SourceImageID)
		}
	}

	state.SetSession(sessionID, token)
	state.SetFile(info.FileID, info.FileName, info.PageCount)
	state.SetOperations(ops)
	state.SetImages(images)

	slog.Info("Session restored", "session_id", sessionID, "operations", len(ops), "images", len(images))
	return info, nil
}
