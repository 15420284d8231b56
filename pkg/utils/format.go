package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"creofinder/internal/errors"
	"creofinder/internal/models"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ValidateFormat accepts the output formats understood by PrintResult.
func ValidateFormat(format string) error {
	switch format {
	case FormatJSON, FormatYAML:
		return nil
	default:
		return errors.NewValidationError("print result", "unsupported output format %q, use json or yaml", format)
	}
}

// PrintResult writes data to stdout in the given format. Unknown formats fall back to JSON.
func PrintResult(data interface{}, format string) error {
	if format == FormatYAML {
		return PrintYAML(data)
	}
	return PrintJSON(data)
}

func PrintJSON(data interface{}) error {
	jsonOutput, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(jsonOutput))
	return nil
}

func PrintYAML(data interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}

func PrintError(err error, command, format string) {
	errorResp := models.ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
		Command:   command,
	}

	var e *errors.Error
	if errors.As(err, &e) {
		errorResp.Kind = string(e.Kind)
	}
	if code, ok := errors.GetStatusCode(err); ok {
		errorResp.StatusCode = code
	}

	err = PrintResult(errorResp, format)
	if err != nil {
		slog.Error("Failed to print error", "format", format, "error", err)
		fmt.Println("Error: ", errorResp)
		return
	}
}

func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
