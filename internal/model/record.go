package model

import (
	"strings"
	"time"
)

// FieldMapping maps one source column to one target field.
type FieldMapping struct {
	SourceColumn       string       `json:"sourceColumn"`
	TargetField        TargetField  `json:"targetField"`
	Confidence         float64      `json:"confidence"`
	DataType           DataType     `json:"dataType"`
	CleaningOperations []CleaningOp `json:"cleaningOperations"`
	SampleValues       []string     `json:"sampleValues,omitempty"`
}

// HasOp reports whether the mapping carries the given cleaning operation.
func (m FieldMapping) HasOp(op CleaningOp) bool {
	for _, o := range m.CleaningOperations {
		if o == op {
			return true
		}
	}
	return false
}

// MappingResult is the outcome of schema inference for a file.
type MappingResult struct {
	FieldMappings         []FieldMapping `json:"fieldMappings"`
	UnmappedColumns       []string       `json:"unmappedColumns"`
	OverallConfidence     float64        `json:"overallConfidence"`
	RequiredFieldsCovered bool           `json:"requiredFieldsCovered"`
	DataQualityNotes      []string       `json:"dataQualityNotes"`
	Strategy              string         `json:"strategy"`
}

// CleaningResult is the cleaned form of one raw row.
type CleaningResult struct {
	Fields     map[TargetField]any `json:"cleanedFields"`
	Warnings   []string            `json:"warnings"`
	Errors     []string            `json:"errors"`
	Confidence float64             `json:"confidence"`
}

// Text returns a cleaned field as a string, or "" when absent.
func (c *CleaningResult) Text(f TargetField) string {
	s, _ := c.Fields[f].(string)
	return s
}

// MatchTier classifies how strongly a record matches a candidate.
type MatchTier string

const (
	TierExact MatchTier = "exact"
	TierHigh  MatchTier = "high"
	TierLow   MatchTier = "low"
)

// Rank orders tiers from strongest (0) to weakest.
func (t MatchTier) Rank() int {
	switch t {
	case TierExact:
		return 0
	case TierHigh:
		return 1
	default:
		return 2
	}
}

// DuplicateMatch is one likely duplicate of a cleaned record. A match against
// an earlier row of the same file carries SourceRow, and RecordID once that
// row has been committed.
type DuplicateMatch struct {
	RecordID  string    `json:"matchedRecordId,omitempty"`
	SourceRow int       `json:"matchedRow,omitempty"`
	Tier      MatchTier `json:"tier"`
	Reasons   []string  `json:"matchReasons"`
}

// Action is the resulting action for a row.
type Action string

const (
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionSkip        Action = "skip"
	ActionNeedsReview Action = "needs-review"
)

// RowOutcome is the evaluated result of one row.
type RowOutcome struct {
	RowIndex   int                 `json:"rowIndex"`
	Data       map[TargetField]any `json:"data"`
	Errors     []string            `json:"errors"`
	Warnings   []string            `json:"warnings"`
	Duplicates []DuplicateMatch    `json:"duplicates"`
	Action     Action              `json:"resultingAction"`
	Confidence float64             `json:"confidence"`
}

// Donor is a stored donor record.
type Donor struct {
	ID          string         `json:"id"`
	FirstName   string         `json:"firstName"`
	LastName    string         `json:"lastName"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	City        string         `json:"city,omitempty"`
	State       string         `json:"state,omitempty"`
	ZipCode     string         `json:"zipCode,omitempty"`
	StudentName string         `json:"studentName,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// DonorFromFields builds a Donor from cleaned row fields. Fields without a
// dedicated column are kept in Attributes.
func DonorFromFields(fields map[TargetField]any) Donor {
	d := Donor{Attributes: map[string]any{}}
	for k, v := range fields {
		s, _ := v.(string)
		switch k {
		case FieldFirstName:
			d.FirstName = s
		case FieldLastName:
			d.LastName = s
		case FieldEmail:
			d.Email = s
		case FieldPhone:
			d.Phone = s
		case FieldCity:
			d.City = s
		case FieldState:
			d.State = s
		case FieldZipCode:
			d.ZipCode = s
		case FieldStudentName:
			d.StudentName = s
		case FieldFullName:
		default:
			d.Attributes[string(k)] = v
		}
	}
	return d
}

// Merge overlays non-empty values of src onto d.
func (d *Donor) Merge(src Donor) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&d.FirstName, src.FirstName)
	set(&d.LastName, src.LastName)
	set(&d.Email, src.Email)
	set(&d.Phone, src.Phone)
	set(&d.City, src.City)
	set(&d.State, src.State)
	set(&d.ZipCode, src.ZipCode)
	set(&d.StudentName, src.StudentName)
	if len(src.Attributes) > 0 && d.Attributes == nil {
		d.Attributes = make(map[string]any, len(src.Attributes))
	}
	for k, v := range src.Attributes {
		d.Attributes[k] = v
	}
}
