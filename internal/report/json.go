package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// WriteJSON encodes the summary as indented JSON.
func WriteJSON(w io.Writer, s *models.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	return nil
}

// WriteJSONFile writes the summary to path, or to stdout when path is "-".
func WriteJSONFile(path string, s *models.RunSummary) error {
	if path == "-" {
		return WriteJSON(os.Stdout, s)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteJSON(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
