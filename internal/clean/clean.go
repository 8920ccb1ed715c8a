// Package clean turns raw spreadsheet rows into typed donor fields.
package clean

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/normalize"
)

// Confidence scoring for cleaned rows.
const (
	BaselineConfidence = 0.8
	WarningPenalty     = 0.1
	WarningFloor       = 0.4
	ErrorPenalty       = 0.3
	ErrorFloor         = 0.2
)

// Messages with fixed wording.
const (
	MsgSinglePartName  = "name appears to have only one part"
	MsgMissingRequired = "missing required fields"
)

// MinPhoneDigits is the digit count below which a phone number is flagged.
const MinPhoneDigits = 10

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"1/2/06",
	"02/01/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// Cleaner applies a mapping's cleaning plan to raw rows. It is safe for
// concurrent use and performs no I/O.
type Cleaner struct {
	registry *model.FieldRegistry
}

// New creates a Cleaner for the given schema.
func New(reg *model.FieldRegistry) *Cleaner {
	return &Cleaner{registry: reg}
}

// Clean maps and normalizes one raw row keyed by source column.
func (c *Cleaner) Clean(raw map[string]string, mappings []model.FieldMapping) *model.CleaningResult {
	res := &model.CleaningResult{Fields: make(map[model.TargetField]any)}

	var splits []string
	for _, m := range mappings {
		if m.TargetField == model.FieldSkip {
			continue
		}
		v := strings.TrimSpace(raw[m.SourceColumn])
		if v == "" {
			continue
		}
		if m.TargetField == model.FieldFullName || m.HasOp(model.OpSplitName) {
			splits = append(splits, v)
			continue
		}
		c.apply(res, m, v)
	}

	// Dedicated name columns take precedence over split names.
	for _, v := range splits {
		first, last, ok := SplitName(v)
		if !ok {
			res.Warnings = append(res.Warnings, MsgSinglePartName)
		}
		if res.Text(model.FieldFirstName) == "" && first != "" {
			res.Fields[model.FieldFirstName] = first
		}
		if res.Text(model.FieldLastName) == "" && last != "" {
			res.Fields[model.FieldLastName] = last
		}
	}

	if res.Text(model.FieldFirstName) == "" && res.Text(model.FieldLastName) == "" {
		res.Errors = append(res.Errors, MsgMissingRequired)
	}

	res.Confidence = Score(len(res.Warnings), len(res.Errors))
	return res
}

func (c *Cleaner) apply(res *model.CleaningResult, m model.FieldMapping, v string) {
	field := m.TargetField
	switch primaryOp(m) {
	case model.OpNormalizeEmail:
		email, ok := Email(v)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("invalid email %q", v))
			return
		}
		res.Fields[field] = email

	case model.OpNormalizePhone:
		digits := Phone(v)
		if len(digits) < MinPhoneDigits {
			res.Warnings = append(res.Warnings, fmt.Sprintf("phone %q has fewer than %d digits", v, MinPhoneDigits))
		}
		if digits != "" {
			res.Fields[field] = digits
		}

	case model.OpParseDate:
		d, ok := Date(v)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not parse %s date %q", field, v))
			return
		}
		res.Fields[field] = d

	case model.OpParseBoolean:
		b, ok := Bool(v)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not read %q as yes/no for %s", v, field))
			return
		}
		res.Fields[field] = b

	case model.OpNormalizeEnum:
		var allowed []string
		if spec := c.registry.ByName(field); spec != nil {
			allowed = spec.Allowed
		}
		e, ok := Enum(v, allowed)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%q is not an allowed %s (%s)", v, field, strings.Join(allowed, ", ")))
			return
		}
		res.Fields[field] = e

	default:
		res.Fields[field] = v
	}
}

// primaryOp picks the operation that decides a column's value type: the
// first non-trim op listed, else the one implied by the data type.
func primaryOp(m model.FieldMapping) model.CleaningOp {
	for _, op := range m.CleaningOperations {
		if op != model.OpTrim && op.Valid() {
			return op
		}
	}
	switch m.DataType {
	case model.TypeEmail:
		return model.OpNormalizeEmail
	case model.TypePhone:
		return model.OpNormalizePhone
	case model.TypeDate:
		return model.OpParseDate
	case model.TypeBoolean:
		return model.OpParseBoolean
	case model.TypeEnumerated:
		return model.OpNormalizeEnum
	}
	return model.OpTrim
}

// Score computes row confidence from its warning and error counts.
func Score(warnings, errors int) float64 {
	c := BaselineConfidence
	if warnings > 0 {
		c = math.Max(c-WarningPenalty*float64(warnings), WarningFloor)
	}
	if errors > 0 {
		c = math.Max(c-ErrorPenalty*float64(errors), ErrorFloor)
	}
	return math.Round(c*100) / 100
}

// SplitName splits on whitespace: the first token is the first name and the
// rest is the last name. ok is false when there is only one token.
func SplitName(full string) (first, last string, ok bool) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", "", false
	case 1:
		return parts[0], "", false
	}
	return parts[0], strings.Join(parts[1:], " "), true
}

// Phone keeps only the digits of a phone number.
func Phone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Email lowercases and trims an address and checks it has exactly one "@"
// and a "." in the domain.
func Email(s string) (string, bool) {
	s = normalize.Email(s)
	if strings.Count(s, "@") != 1 {
		return "", false
	}
	at := strings.IndexByte(s, '@')
	if at == 0 || !strings.Contains(s[at+1:], ".") || strings.ContainsFunc(s, unicode.IsSpace) {
		return "", false
	}
	return s, true
}

// Date parses common date layouts and returns ISO 8601 (YYYY-MM-DD).
func Date(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// Bool reads yes/no style values.
func Bool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "y", "true", "t", "x":
		return true, true
	case "0", "no", "n", "false", "f":
		return false, true
	}
	return false, false
}

// Enum matches a value against allowed values, ignoring case, accents and
// punctuation, and returns the canonical spelling.
func Enum(s string, allowed []string) (string, bool) {
	key := normalize.Header(s)
	for _, a := range allowed {
		if normalize.Header(a) == key {
			return a, true
		}
	}
	return "", false
}
