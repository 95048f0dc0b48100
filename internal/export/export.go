// Package export writes and reads operation logs as JSON, YAML or Parquet.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

const (
	FormatJSON    = "json"
	FormatYAML    = "yaml"
	FormatParquet = "parquet"
)

// Log is the document written for the json and yaml formats
type Log struct {
	SessionID  string             `json:"session_id" yaml:"session_id"`
	ExportedAt string             `json:"exported_at" yaml:"exported_at"`
	Total      int                `json:"total" yaml:"total"`
	Operations []models.Operation `json:"operations" yaml:"operations"`
}

// Row is one operation flattened for columnar storage. The payload is kept
// as JSON so every operation type fits one schema.
type Row struct {
	ID          string `parquet:"id"`
	SessionID   string `parquet:"session_id"`
	Order       int64  `parquet:"operation_order"`
	Type        string `parquet:"operation_type"`
	Page        int64  `parquet:"page"`
	ImageID     string `parquet:"image_id"`
	PlacementID string `parquet:"placement_id"`
	Data        string `parquet:"operation_data"`
	CreatedAtMs int64  `parquet:"created_at_ms"`
}

// FormatFromPath picks a format from a file extension
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".parquet":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("unsupported log file extension: %s", filepath.Ext(path))
}

// Write encodes ops in format
func Write(w io.Writer, format, sessionID string, ops []models.Operation) error {
	doc := Log{
		SessionID:  sessionID,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Total:      len(ops),
		Operations: ops,
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return nil
	case FormatYAML:
		data, err := yaml.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatParquet:
		rows, err := toRows(ops)
		if err != nil {
			return err
		}
		if err := parquet.Write(w, rows); err != nil {
			return fmt.Errorf("failed to write parquet: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown format %q (json, yaml, parquet)", format)
}

// WriteFile writes ops to path in the format its extension names
func WriteFile(path, sessionID string, ops []models.Operation) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, format, sessionID, ops); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads an exported log, detecting the format from the extension
func Load(path string) ([]models.Operation, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == FormatParquet {
		return loadParquet(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc Log
	if format == FormatJSON {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc.Operations, nil
}

func toRows(ops []models.Operation) ([]Row, error) {
	rows := make([]Row, 0, len(ops))
	for _, op := range ops {
		data, err := json.Marshal(op.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal operation %s: %w", op.ID, err)
		}
		rows = append(rows, Row{
			ID:          op.ID,
			SessionID:   op.SessionID,
			Order:       int64(op.Order),
			Type:        string(op.Type),
			Page:        int64(op.Data.Page),
			ImageID:     op.Data.ImageID,
			PlacementID: op.Data.PlacementID,
			Data:        string(data),
			CreatedAtMs: op.CreatedAt.UnixMilli(),
		})
	}
	return rows, nil
}

func loadParquet(path string) ([]models.Operation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	slog.Debug("Parquet log opened", "path", path, "num_rows", pf.NumRows())

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	var ops []models.Operation
	rows := make([]Row, 128)
	for {
		n, err := reader.Read(rows)
		for _, row := range rows[:n] {
			var data models.OperationData
			if jsonErr := json.Unmarshal([]byte(row.Data), &data); jsonErr != nil {
				return nil, fmt.Errorf("failed to decode operation %s: %w", row.ID, jsonErr)
			}
			ops = append(ops, models.Operation{
				ID:        row.ID,
				SessionID: row.SessionID,
				Order:     int(row.Order),
				Type:      models.OperationType(row.Type),
				Data:      data,
				CreatedAt: time.UnixMilli(row.CreatedAtMs).UTC(),
			})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return ops, nil
}
