package richtext

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const payloadType = "styled_text"

// ErrDecode matches every *DecodeError.
var ErrDecode = errors.New("richtext: decode failed")

// DecodeError reports a corrupt or foreign payload.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("richtext: decode failed: %s", e.Reason)
	}
	return fmt.Sprintf("richtext: decode failed: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

type wireDocument struct {
	Type string    `json:"type"`
	Text string    `json:"text"`
	Runs []wireRun `json:"runs,omitempty"`
}

type wireRun struct {
	Start     int  `json:"s"`
	Length    int  `json:"l"`
	Bold      bool `json:"b,omitempty"`
	Italic    bool `json:"i,omitempty"`
	Underline bool `json:"u,omitempty"`
}

// Encode serializes doc into a storage-safe string. Decode(Encode(doc)) equals doc.
func Encode(doc Document) (string, error) {
	wire := wireDocument{Type: payloadType, Text: doc.text}
	for _, run := range doc.runs {
		wire.Runs = append(wire.Runs, wireRun{
			Start:     run.Start,
			Length:    run.Length,
			Bold:      run.Style.Has(StyleBold),
			Italic:    run.Style.Has(StyleItalic),
			Underline: run.Style.Has(StyleUnderline),
		})
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("richtext: encode failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a payload produced by Encode.
func Decode(payload string) (Document, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return Document{}, &DecodeError{Reason: "empty_payload"}
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return Document{}, &DecodeError{Reason: "invalid_base64", Err: err}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	var wire wireDocument
	if err := decoder.Decode(&wire); err != nil {
		return Document{}, &DecodeError{Reason: "invalid_json", Err: err}
	}
	if wire.Type != payloadType {
		return Document{}, &DecodeError{Reason: "unknown_type"}
	}

	runes := []rune(wire.Text)
	styles := make([]Style, 0, len(runes))
	cursor := 0
	for _, run := range wire.Runs {
		if run.Start != cursor {
			return Document{}, &DecodeError{Reason: "runs_not_contiguous"}
		}
		if run.Length <= 0 {
			return Document{}, &DecodeError{Reason: "invalid_run_length"}
		}
		if run.Length > len(runes)-cursor {
			return Document{}, &DecodeError{Reason: "run_exceeds_text"}
		}
		var style Style
		if run.Bold {
			style |= StyleBold
		}
		if run.Italic {
			style |= StyleItalic
		}
		if run.Underline {
			style |= StyleUnderline
		}
		for offset := 0; offset < run.Length; offset++ {
			styles = append(styles, style)
		}
		cursor += run.Length
	}
	if cursor != len(runes) {
		return Document{}, &DecodeError{Reason: "runs_do_not_cover_text"}
	}
	return build(runes, styles), nil
}

// DecodeOrEmpty decodes payload and substitutes an empty document on failure. The decode
// error is still returned so callers can log it.
func DecodeOrEmpty(payload string) (Document, error) {
	doc, err := Decode(payload)
	if err != nil {
		return Empty(), err
	}
	return doc, nil
}
