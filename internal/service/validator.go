package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/prompts"
)

// ValidationFormat names the record shape a validator keeps.
type ValidationFormat string

const (
	FormatPromptCompletion ValidationFormat = "prompt_completion"
	FormatChatMessages     ValidationFormat = "chat_messages"
	FormatPermissive       ValidationFormat = "permissive"
)

// ValidationFormatFor returns the validator format matching a dataset
// format.
func ValidationFormatFor(f prompts.DatasetFormat) ValidationFormat {
	if f == prompts.FormatPromptCompletion {
		return FormatPromptCompletion
	}
	return FormatChatMessages
}

// ValidationReport counts what a validation pass kept and dropped.
type ValidationReport struct {
	Path      string
	Total     int
	Kept      int
	Discarded int
	Errors    []domain.ValidationError
}

// DatasetValidator rewrites a JSONL artifact keeping only well-formed
// records. Kept lines are written back unchanged.
type DatasetValidator struct {
	format ValidationFormat
}

// NewDatasetValidator creates a validator for format.
func NewDatasetValidator(format ValidationFormat) *DatasetValidator {
	return &DatasetValidator{format: format}
}

// maxLineBytes bounds one dataset line
const maxLineBytes = 4 << 20

// Validate filters path in place. An artifact with nothing valid left is
// reported with Kept == 0, not as an error.
func (v *DatasetValidator) Validate(ctx context.Context, path string) (ValidationReport, error) {
	report := ValidationReport{Path: path}

	in, err := os.Open(path)
	if err != nil {
		return report, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer in.Close()

	var out bytes.Buffer
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		report.Total++

		if reason := v.check(line); reason != "" {
			report.Discarded++
			report.Errors = append(report.Errors, domain.ValidationError{Line: lineNo, Reason: reason})
			continue
		}
		out.Write(line)
		out.WriteByte('\n')
		report.Kept++
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("failed to read dataset: %w", err)
	}

	// a clean artifact is left byte for byte as it was
	if report.Discarded == 0 {
		return report, nil
	}
	if err := replaceFile(path, out.Bytes()); err != nil {
		return report, err
	}

	logger.With(logger.Fields{
		"kept":      report.Kept,
		"discarded": report.Discarded,
	}).Warn(ctx, "Discarded malformed dataset lines")
	return report, nil
}

// check reports why line is not a record of v's format, or "" when it is.
// Numbers decode as json.Number so large integers are not rounded.
func (v *DatasetValidator) check(line []byte) string {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return "invalid json: " + err.Error()
	}
	if _, err := dec.Token(); err != io.EOF {
		return "invalid json: trailing data after object"
	}
	if obj == nil {
		return "not a json object"
	}

	switch v.format {
	case FormatPromptCompletion:
		if !nonEmptyString(obj["prompt"]) || !nonEmptyString(obj["completion"]) {
			return "missing prompt or completion"
		}
	case FormatChatMessages:
		return checkMessages(obj["messages"])
	}
	return ""
}

func checkMessages(raw interface{}) string {
	messages, ok := raw.([]interface{})
	if !ok || len(messages) == 0 {
		return "missing messages"
	}

	var hasUser, hasAssistant bool
	for i, m := range messages {
		msg, ok := m.(map[string]interface{})
		if !ok {
			return fmt.Sprintf("message %d is not an object", i)
		}
		role, _ := msg["role"].(string)
		if _, ok := msg["content"].(string); !ok || role == "" {
			return fmt.Sprintf("message %d needs role and string content", i)
		}
		switch role {
		case "user":
			hasUser = true
		case "assistant":
			hasAssistant = true
		}
	}
	if !hasUser || !hasAssistant {
		return "messages need a user and an assistant turn"
	}
	return ""
}

func nonEmptyString(v interface{}) bool {
	s, ok := v.(string)
	return ok && s != ""
}

// replaceFile swaps path's content through a temp file in the same dir.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".validate-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dataset: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace dataset: %w", err)
	}
	return nil
}
