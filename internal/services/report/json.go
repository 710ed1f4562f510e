package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ternarybob/sitecheck/internal/models"
)

// FormatJSON renders the detailed machine-readable report
func FormatJSON(report *models.Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// WriteJSON writes the detailed report to w
func WriteJSON(w io.Writer, report *models.Report) error {
	data, err := FormatJSON(report)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteJSONFile writes the detailed report to path, creating parent directories
func WriteJSONFile(path string, report *models.Report) error {
	data, err := FormatJSON(report)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
