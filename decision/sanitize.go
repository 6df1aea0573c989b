package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Kind tells a usable outcome from a fallback.
type Kind int

const (
	Sanitized Kind = iota
	Fallback
)

func (k Kind) String() string {
	if k == Fallback {
		return "fallback"
	}
	return "sanitized"
}

// ParseFailure explains why no decision could be extracted.
type ParseFailure struct {
	Reason string
	Err    error
}

func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse failure: %s: %v", e.Reason, e.Err)
	}
	return "parse failure: " + e.Reason
}

func (e *ParseFailure) Unwrap() error { return e.Err }

// Outcome is the result of Sanitize. Fields is always populated; for a
// Fallback it holds the wait record and Failure says why.
type Outcome struct {
	Kind      Kind
	Fields    Fields
	Reasoning string
	Failure   *ParseFailure
}

func (o Outcome) IsFallback() bool { return o.Kind == Fallback }

// FallbackReasoning is the reasoning text of every fallback record.
const FallbackReasoning = "parse failure"

// FallbackFields is the record substituted for unusable output.
func FallbackFields() Fields {
	return Fields{
		FieldAction:     string(ActionWait),
		FieldConfidence: 0,
		FieldReasoning:  FallbackReasoning,
		FieldFallback:   true,
	}
}

func fallback(reasoning string, pf *ParseFailure) Outcome {
	return Outcome{Kind: Fallback, Fields: FallbackFields(), Reasoning: reasoning, Failure: pf}
}

var (
	arrayStartRe = regexp.MustCompile(`\[\s*\{`)
	emptyArrayRe = regexp.MustCompile(`\[\s*\]`)

	// Unquoted numbers the generator decorated; only tried after a failed decode.
	// The operand after '~' stops before a comma that separates fields.
	rawRangeRe     = regexp.MustCompile(`(:\s*)(-?\d{1,3}(?:,\d{3})+(?:\.\d+)?|-?\d+(?:\.\d+)?)\s*~\s*(?:-?\d{1,3}(?:,\d{3})+(?:\.\d+)?|-?\d+(?:\.\d+)?)`)
	rawThousandsRe = regexp.MustCompile(`(:\s*)(-?\d{1,3}(?:,\d{3})+(?:\.\d+)?)`)

	// Quoted numeric strings.
	rangeRe     = regexp.MustCompile(`^\s*(-?\d[\d,]*(?:\.\d+)?)\s*~\s*-?\d[\d,]*(?:\.\d+)?\s*$`)
	thousandsRe = regexp.MustCompile(`^\s*-?\d{1,3}(?:,\d{3})+(?:\.\d+)?\s*$`)
)

// Sanitize extracts the first decision object from generator output. It
// never fails: anything unusable yields the wait fallback.
func Sanitize(text string) Outcome {
	text = fixSmartQuotes(text)
	reasoning := strings.TrimSpace(tagContent(text, "reasoning"))

	payload, err := locatePayload(text)
	if err != nil {
		return fallback(reasoning, err)
	}

	objs, derr := decodeArray(payload)
	if derr != nil {
		repaired := repairRaw(payload)
		var rerr error
		objs, rerr = decodeArray(repaired)
		if rerr != nil {
			return fallback(reasoning, &ParseFailure{Reason: "invalid JSON", Err: derr})
		}
	}
	if len(objs) == 0 {
		return fallback(reasoning, &ParseFailure{Reason: "empty decision array"})
	}

	fields := normalizeFields(objs[0])
	if err := checkResidual(fields); err != nil {
		return fallback(reasoning, err)
	}
	return Outcome{Kind: Sanitized, Fields: fields, Reasoning: reasoning}
}

// ValidateFormat checks a raw payload: it must be a JSON array of objects
// and carry no range token.
func ValidateFormat(payload string) error {
	p := strings.TrimSpace(payload)
	if !strings.HasPrefix(p, "[") {
		if strings.HasPrefix(p, "{") {
			return &ParseFailure{Reason: "decision must be a JSON array, got a bare object"}
		}
		return &ParseFailure{Reason: "decision must be a JSON array"}
	}
	if strings.Contains(p, "~") {
		return &ParseFailure{Reason: "range token '~' is not allowed"}
	}
	if _, err := decodeArray(p); err != nil {
		return &ParseFailure{Reason: "invalid JSON", Err: err}
	}
	return nil
}

// locatePayload narrows text to the JSON array of the decision block.
func locatePayload(text string) (string, *ParseFailure) {
	section := text
	if c, ok := tagSection(text, "decision"); ok {
		section = c
	}
	if fenced, ok := fencedBlock(section); ok {
		section = fenced
	}

	loc := arrayStartRe.FindStringIndex(section)
	if loc == nil {
		switch {
		case emptyArrayRe.MatchString(section):
			return "", &ParseFailure{Reason: "empty decision array"}
		case strings.Contains(section, "{"):
			return "", &ParseFailure{Reason: "decision must be a JSON array, got a bare object"}
		default:
			return "", &ParseFailure{Reason: "no decision block found"}
		}
	}

	start := loc[0]
	end := findMatchingBracket(section, start)
	if end < 0 {
		return "", &ParseFailure{Reason: "unterminated decision array"}
	}
	return section[start : end+1], nil
}

func decodeArray(payload string) ([]map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var objs []map[string]any
	if err := dec.Decode(&objs); err != nil {
		return nil, err
	}
	return objs, nil
}

func repairRaw(payload string) string {
	payload = rawRangeRe.ReplaceAllString(payload, "${1}${2}")
	return rawThousandsRe.ReplaceAllStringFunc(payload, func(m string) string {
		return strings.ReplaceAll(m, ",", "")
	})
}

func normalizeFields(obj map[string]any) Fields {
	f := make(Fields, len(obj))
	for k, v := range obj {
		key := strings.ToLower(strings.TrimSpace(k))
		if s, ok := v.(string); ok {
			v = normalizeNumeric(s)
		}
		f[key] = v
	}
	if f.Has(FieldAction) {
		f[FieldAction] = string(f.Action())
	}
	if f.Has(FieldSymbol) {
		f[FieldSymbol] = f.Symbol()
	}
	return f
}

// normalizeNumeric rewrites "85000~86000" to "85000" and "1,000" to "1000".
// Anything that does not look like a number is returned unchanged.
func normalizeNumeric(s string) string {
	if m := rangeRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if thousandsRe.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	}
	if t := strings.TrimSpace(s); looksNumeric(t) {
		return t
	}
	return s
}

func looksNumeric(s string) bool {
	_, err := json.Number(s).Float64()
	return err == nil
}

func checkResidual(f Fields) *ParseFailure {
	for _, k := range NumericFields {
		if s, ok := f[k].(string); ok && strings.Contains(s, "~") {
			return &ParseFailure{Reason: fmt.Sprintf("field %s still contains range token '~'", k)}
		}
	}
	return nil
}

// tagSection returns the text between <tag> and </tag>. A missing close tag
// extends the section to the end of text.
func tagSection(text, tag string) (string, bool) {
	lower := strings.ToLower(text)
	open := "<" + tag + ">"
	i := strings.Index(lower, open)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(open):]
	if j := strings.Index(strings.ToLower(rest), "</"+tag+">"); j >= 0 {
		rest = rest[:j]
	}
	return rest, true
}

func tagContent(text, tag string) string {
	s, _ := tagSection(text, tag)
	return s
}

// fencedBlock returns the body of the first ``` block, preferring one
// labelled json.
func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```json")
	skip := len("```json")
	if start < 0 {
		start = strings.Index(s, "```")
		skip = 3
	}
	if start < 0 {
		return "", false
	}
	body := s[start+skip:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body, true
}

// findMatchingBracket returns the index of the ']' closing the '[' at start,
// skipping brackets inside string literals, or -1.
func findMatchingBracket(s string, start int) int {
	if start >= len(s) || s[start] != '[' {
		return -1
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

func fixSmartQuotes(s string) string {
	return strings.NewReplacer(
		"“", "\"",
		"”", "\"",
		"‘", "'",
		"’", "'",
	).Replace(s)
}
