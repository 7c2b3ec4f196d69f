package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseErrMessage is the Error value set on a fallback payload.
const ParseErrMessage = "JSON parse failed"

// FlexString decodes a JSON string or number into a string. Models are
// inconsistent about quoting answer numbers, so both forms are accepted;
// the numeric literal is kept verbatim ("1" stays "1", "1.5" stays "1.5").
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = FlexString(t)
	case json.Number:
		*s = FlexString(t.String())
	case nil:
		*s = ""
	default:
		*s = FlexString(fmt.Sprintf("%v", t))
	}
	return nil
}

// RawAnswer is one answer as reported by the extraction model, before a
// page number is attached.
type RawAnswer struct {
	AnswerNumber FlexString `json:"answer_number"`
	Content      string     `json:"content"`
	AnswerType   string     `json:"answer_type"`
	Confidence   string     `json:"confidence"`
}

// RawStats is the optional quality block in an extraction reply.
type RawStats struct {
	WordsExtracted int    `json:"words_extracted"`
	TextQuality    string `json:"text_quality"`
}

// ExtractionPayload is the decoded extraction reply for one page or image.
// When decoding fails, Error is set and RawText carries the unparsed input;
// consumers must check Error before trusting the structured fields.
type ExtractionPayload struct {
	RawText string      `json:"raw_text"`
	Answers []RawAnswer `json:"answers"`
	Stats   *RawStats   `json:"extraction_stats"`
	Error   string      `json:"error,omitempty"`
}

// Ok reports whether the payload was decoded structurally.
func (p ExtractionPayload) Ok() bool { return p.Error == "" }

// pageEnvelope tolerates replies that nest everything under "page_content".
type pageEnvelope struct {
	PageContent json.RawMessage `json:"page_content"`
}

// ParseExtraction decodes an extraction model reply. The reply is expected
// to be JSON but the model gives no hard guarantee, so markdown code fences
// are stripped and a malformed body degrades to a fallback payload instead
// of an error. One garbled page must never abort a multi-page job.
func ParseExtraction(raw string) ExtractionPayload {
	cleaned := stripCodeFence(raw)

	var env pageEnvelope
	if err := json.Unmarshal([]byte(cleaned), &env); err == nil && env.PageContent != nil {
		cleaned = string(env.PageContent)
	}

	var payload ExtractionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return ExtractionPayload{RawText: raw, Error: ParseErrMessage}
	}
	return payload
}

// DecodeJSON decodes a model reply into v after stripping code fences.
// Unlike ParseExtraction it returns the decode error, because its callers
// (key parsing, grading) decide for themselves whether a bad reply is fatal.
func DecodeJSON(raw string, v any) error {
	cleaned := stripCodeFence(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}

// stripCodeFence removes a wrapping markdown code fence, with or without a
// language tag, and trims surrounding whitespace.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		// Drop a language annotation such as "json" on the opening fence.
		if idx := strings.IndexByte(s, '\n'); idx >= 0 && !strings.ContainsAny(s[:idx], "{}[]") {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
