package mapping

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/normalize"
)

// HeuristicConfidence is assigned to every header pattern match.
const HeuristicConfidence = 0.7

// StrategyHeuristic names the header-matching strategy.
const StrategyHeuristic = "heuristic"

// Pattern matches normalized headers to a target field. Exact entries must
// equal the whole header; Contains entries may appear anywhere in it.
type Pattern struct {
	Field    model.TargetField `yaml:"field"`
	Exact    []string          `yaml:"exact"`
	Contains []string          `yaml:"contains"`
}

// DefaultPatterns is evaluated in order; the first matching pattern decides a
// column's field. More specific fields precede the ones whose names they
// contain (emailOptIn before email, studentGrade before studentName).
var DefaultPatterns = []Pattern{
	{Field: model.FieldEmailOptIn, Exact: []string{"optin", "emailoptin", "subscribed", "newsletter"}, Contains: []string{"optin", "subscribe", "newsletter"}},
	{Field: model.FieldDoNotContact, Exact: []string{"dnc", "donotcontact", "donotcall", "optout"}, Contains: []string{"donotcontact", "nocontact", "optout", "donotemail"}},
	{Field: model.FieldPreferredContact, Exact: []string{"preferredcontact", "contactpreference", "contactmethod"}, Contains: []string{"preferredcontact", "contactpref", "contactmethod"}},
	{Field: model.FieldStudentGrade, Exact: []string{"grade", "studentgrade", "gradelevel", "class"}, Contains: []string{"grade"}},
	{Field: model.FieldStudentName, Exact: []string{"student", "studentname", "child", "childname", "childsname", "studentsname"}, Contains: []string{"student", "child"}},
	{Field: model.FieldFirstName, Exact: []string{"firstname", "fname", "first", "givenname", "forename", "donorfirstname", "parentfirstname"}, Contains: []string{"firstname", "givenname"}},
	{Field: model.FieldLastName, Exact: []string{"lastname", "lname", "last", "surname", "familyname", "donorlastname", "parentlastname"}, Contains: []string{"lastname", "surname", "familyname"}},
	{Field: model.FieldFullName, Exact: []string{"name", "fullname", "donor", "donorname", "contactname", "parentname", "guardianname"}, Contains: []string{"fullname"}},
	{Field: model.FieldEmail, Exact: []string{"email", "emailaddress", "mail", "email1", "primaryemail"}, Contains: []string{"email"}},
	{Field: model.FieldPhone, Exact: []string{"phone", "tel", "mobile", "cell", "phonenumber"}, Contains: []string{"phone", "mobile", "cell"}},
	{Field: model.FieldZipCode, Exact: []string{"zip", "zipcode", "postalcode", "postcode", "zip5"}, Contains: []string{"zip", "postal"}},
	{Field: model.FieldAddress, Exact: []string{"address", "street", "address1", "streetaddress", "addressline1"}, Contains: []string{"address", "street"}},
	{Field: model.FieldCity, Exact: []string{"city", "town"}, Contains: []string{"city"}},
	{Field: model.FieldState, Exact: []string{"state", "st", "province", "region"}, Contains: []string{"state", "province"}},
	{Field: model.FieldDonorType, Exact: []string{"donortype", "type", "category", "donorcategory"}, Contains: []string{"donortype"}},
	{Field: model.FieldLastGiftDate, Exact: []string{"lastgift", "lastgiftdate", "lastdonation", "lastdonationdate"}, Contains: []string{"lastgift", "lastdonation"}},
	{Field: model.FieldBirthDate, Exact: []string{"dob", "birthday", "birthdate", "dateofbirth"}, Contains: []string{"birth"}},
	{Field: model.FieldNotes, Exact: []string{"notes", "note", "comments", "comment", "remarks"}, Contains: []string{"note", "comment"}},
}

// Heuristic maps columns by matching normalized header names.
type Heuristic struct {
	patterns []Pattern
	registry *model.FieldRegistry
}

// NewHeuristic creates a Heuristic strategy. Nil patterns use DefaultPatterns.
func NewHeuristic(reg *model.FieldRegistry, patterns []Pattern) *Heuristic {
	if patterns == nil {
		patterns = DefaultPatterns
	}
	return &Heuristic{patterns: patterns, registry: reg}
}

// LoadPatterns reads a pattern table from a YAML file with a top-level
// "patterns" list.
func LoadPatterns(path string, reg *model.FieldRegistry) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read patterns %s", path)
	}

	var wrapper struct {
		Patterns []Pattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "mapping: parse patterns")
	}
	if len(wrapper.Patterns) == 0 {
		return nil, eris.Errorf("mapping: %s defines no patterns", path)
	}

	for i, p := range wrapper.Patterns {
		if reg.ByName(p.Field) == nil {
			return nil, eris.Errorf("mapping: pattern %d: unknown field %q", i, p.Field)
		}
		wrapper.Patterns[i].Exact = normalizeAll(p.Exact)
		wrapper.Patterns[i].Contains = normalizeAll(p.Contains)
	}
	return wrapper.Patterns, nil
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := normalize.Header(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Name implements Strategy.
func (h *Heuristic) Name() string { return StrategyHeuristic }

// Infer implements Strategy. It never fails.
func (h *Heuristic) Infer(_ context.Context, headers []string, sample []map[string]string) (*model.MappingResult, error) {
	res := &model.MappingResult{Strategy: StrategyHeuristic}

	fields := make([]model.TargetField, len(headers))
	owner := make(map[model.TargetField]string)

	assign := func(i int, f model.TargetField) {
		if prev, taken := owner[f]; taken {
			res.DataQualityNotes = append(res.DataQualityNotes,
				fmt.Sprintf("Column %q also looks like %s; only %q is mapped", headers[i], f, prev))
			return
		}
		owner[f] = headers[i]
		fields[i] = f
	}

	normalized := make([]string, len(headers))
	for i, hdr := range headers {
		normalized[i] = normalize.Header(hdr)
	}

	// Exact matches claim fields before substring matches.
	for i, n := range normalized {
		if f, ok := h.match(n, true); ok {
			assign(i, f)
		}
	}
	for i, n := range normalized {
		if fields[i] != "" {
			continue
		}
		if _, exact := h.match(n, true); exact {
			continue
		}
		if f, ok := h.match(n, false); ok {
			assign(i, f)
		}
	}

	// A combined-name column is only used when neither name part was found.
	if col, ok := owner[model.FieldFullName]; ok {
		_, hasFirst := owner[model.FieldFirstName]
		_, hasLast := owner[model.FieldLastName]
		if hasFirst || hasLast {
			for i := range fields {
				if fields[i] == model.FieldFullName {
					fields[i] = ""
				}
			}
			res.DataQualityNotes = append(res.DataQualityNotes,
				fmt.Sprintf("Column %q looks like a combined name but separate name columns exist; it is not imported", col))
		}
	}

	for i, f := range fields {
		if f == "" {
			continue
		}
		spec := h.registry.ByName(f)
		res.FieldMappings = append(res.FieldMappings, model.FieldMapping{
			SourceColumn:       headers[i],
			TargetField:        f,
			Confidence:         HeuristicConfidence,
			DataType:           spec.DataType,
			CleaningOperations: append([]model.CleaningOp(nil), spec.Ops...),
			SampleValues:       sampleValues(sample, headers[i]),
		})
	}
	return res, nil
}

func (h *Heuristic) match(normalized string, exact bool) (model.TargetField, bool) {
	if normalized == "" {
		return "", false
	}
	for _, p := range h.patterns {
		list := p.Contains
		if exact {
			list = p.Exact
		}
		for _, s := range list {
			if (exact && normalized == s) || (!exact && strings.Contains(normalized, s)) {
				return p.Field, true
			}
		}
	}
	return "", false
}

const maxSampleValues = 3

func sampleValues(sample []map[string]string, column string) []string {
	var out []string
	for _, row := range sample {
		v := strings.TrimSpace(row[column])
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == maxSampleValues {
			break
		}
	}
	return out
}
