package model

import (
	"fmt"
	"strings"
)

// TargetField names a field of the donor schema.
type TargetField string

// Donor schema fields. FieldFullName is a combined-name column that is split
// into FieldFirstName and FieldLastName during cleaning.
const (
	FieldFirstName        TargetField = "firstName"
	FieldLastName         TargetField = "lastName"
	FieldFullName         TargetField = "fullName"
	FieldEmail            TargetField = "email"
	FieldPhone            TargetField = "phone"
	FieldAddress          TargetField = "address"
	FieldCity             TargetField = "city"
	FieldState            TargetField = "state"
	FieldZipCode          TargetField = "zipCode"
	FieldStudentName      TargetField = "studentName"
	FieldStudentGrade     TargetField = "studentGrade"
	FieldDonorType        TargetField = "donorType"
	FieldPreferredContact TargetField = "preferredContact"
	FieldEmailOptIn       TargetField = "emailOptIn"
	FieldDoNotContact     TargetField = "doNotContact"
	FieldBirthDate        TargetField = "birthDate"
	FieldLastGiftDate     TargetField = "lastGiftDate"
	FieldNotes            TargetField = "notes"

	// FieldSkip marks a source column that is not imported.
	FieldSkip TargetField = "skip"
)

// DataType is the value type of a target field.
type DataType string

const (
	TypeText       DataType = "text"
	TypeEmail      DataType = "email"
	TypePhone      DataType = "phone"
	TypeDate       DataType = "date"
	TypeBoolean    DataType = "boolean"
	TypeEnumerated DataType = "enumerated"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case TypeText, TypeEmail, TypePhone, TypeDate, TypeBoolean, TypeEnumerated:
		return true
	}
	return false
}

// CleaningOp names a cleaning operation applied to a mapped column.
type CleaningOp string

const (
	OpSplitName      CleaningOp = "split-name"
	OpNormalizePhone CleaningOp = "normalize-phone"
	OpNormalizeEmail CleaningOp = "normalize-email"
	OpParseDate      CleaningOp = "parse-date"
	OpParseBoolean   CleaningOp = "parse-boolean"
	OpNormalizeEnum  CleaningOp = "normalize-enum"
	OpTrim           CleaningOp = "trim"
)

// Valid reports whether op is a known cleaning operation.
func (op CleaningOp) Valid() bool {
	switch op {
	case OpSplitName, OpNormalizePhone, OpNormalizeEmail, OpParseDate, OpParseBoolean, OpNormalizeEnum, OpTrim:
		return true
	}
	return false
}

// FieldSpec describes one target field of the donor schema.
type FieldSpec struct {
	Name        TargetField  `json:"name"`
	Label       string       `json:"label"`
	DataType    DataType     `json:"dataType"`
	Required    bool         `json:"required"`
	Ops         []CleaningOp `json:"cleaningOperations,omitempty"`
	Allowed     []string     `json:"allowedValues,omitempty"`
	Description string       `json:"description"`
	Example     string       `json:"example,omitempty"`
}

// FieldRegistry is an indexed collection of target field specs.
type FieldRegistry struct {
	Fields   []FieldSpec
	byName   map[TargetField]*FieldSpec
	required []*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byName: make(map[TargetField]*FieldSpec, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byName[f.Name] = f
		if f.Required {
			r.required = append(r.required, f)
		}
	}
	return r
}

// ByName returns the spec for the given field, or nil if not found.
func (r *FieldRegistry) ByName(name TargetField) *FieldSpec {
	return r.byName[name]
}

// Known reports whether name is a schema field or the skip sentinel.
func (r *FieldRegistry) Known(name TargetField) bool {
	return name == FieldSkip || r.byName[name] != nil
}

// Required returns all required field specs.
func (r *FieldRegistry) Required() []*FieldSpec {
	return r.required
}

// Describe renders the schema as plain text for an inference prompt.
func (r *FieldRegistry) Describe() string {
	var b strings.Builder
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "- %s (%s", f.Name, f.DataType)
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString("): ")
		b.WriteString(f.Description)
		if len(f.Allowed) > 0 {
			fmt.Fprintf(&b, " Allowed values: %s.", strings.Join(f.Allowed, ", "))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "- %s: the column should not be imported.\n", FieldSkip)
	return b.String()
}

// DonorSchema is the fixed target schema for donor imports.
var DonorSchema = NewFieldRegistry([]FieldSpec{
	{Name: FieldFirstName, Label: "First Name", DataType: TypeText, Required: true, Ops: []CleaningOp{OpTrim}, Description: "Donor given name.", Example: "Maria"},
	{Name: FieldLastName, Label: "Last Name", DataType: TypeText, Required: true, Ops: []CleaningOp{OpTrim}, Description: "Donor family name.", Example: "Lopez"},
	{Name: FieldFullName, Label: "Full Name", DataType: TypeText, Ops: []CleaningOp{OpSplitName}, Description: "Combined first and last name, split on whitespace during cleaning.", Example: "Maria Lopez"},
	{Name: FieldEmail, Label: "Email", DataType: TypeEmail, Ops: []CleaningOp{OpNormalizeEmail}, Description: "Primary email address.", Example: "maria@example.org"},
	{Name: FieldPhone, Label: "Phone", DataType: TypePhone, Ops: []CleaningOp{OpNormalizePhone}, Description: "Primary phone number.", Example: "(555) 123-4567"},
	{Name: FieldAddress, Label: "Street Address", DataType: TypeText, Ops: []CleaningOp{OpTrim}, Description: "Street address line.", Example: "12 Oak St"},
	{Name: FieldCity, Label: "City", DataType: TypeText, Ops: []CleaningOp{OpTrim}, Description: "City of residence.", Example: "Springfield"},
	{Name: FieldState, Label: "State", DataType: TypeText, Ops: []CleaningOp{OpTrim}, Description: "State or province.", Example: "IL"},
	{Name: FieldZipCode, Label: "Zip Code", DataType: TypeText, Ops: []CleaningOp{OpTrim}, Description: "Postal code.", Example: "62704"},
	{Name: FieldStudentName, Label: "Student Name", DataType: TypeText, Ops: []CleaningOp{OpTrim}, Description: "Name of the associated student.", Example: "Ana Lopez"},
	{Name: FieldStudentGrade, Label: "Student Grade", DataType: TypeText, Ops: []CleaningOp{OpTrim}, Description: "Grade of the associated student.", Example: "5"},
	{Name: FieldDonorType, Label: "Donor Type", DataType: TypeEnumerated, Ops: []CleaningOp{OpNormalizeEnum}, Allowed: []string{"individual", "family", "business", "foundation", "alumni"}, Description: "Kind of donor.", Example: "family"},
	{Name: FieldPreferredContact, Label: "Preferred Contact", DataType: TypeEnumerated, Ops: []CleaningOp{OpNormalizeEnum}, Allowed: []string{"email", "phone", "mail", "text"}, Description: "Preferred contact channel.", Example: "email"},
	{Name: FieldEmailOptIn, Label: "Email Opt In", DataType: TypeBoolean, Ops: []CleaningOp{OpParseBoolean}, Description: "Whether the donor accepts email.", Example: "yes"},
	{Name: FieldDoNotContact, Label: "Do Not Contact", DataType: TypeBoolean, Ops: []CleaningOp{OpParseBoolean}, Description: "Whether the donor asked not to be contacted.", Example: "no"},
	{Name: FieldBirthDate, Label: "Birth Date", DataType: TypeDate, Ops: []CleaningOp{OpParseDate}, Description: "Date of birth.", Example: "1980-04-12"},
	{Name: FieldLastGiftDate, Label: "Last Gift Date", DataType: TypeDate, Ops: []CleaningOp{OpParseDate}, Description: "Date of the most recent gift.", Example: "2024-11-30"},
	{Name: FieldNotes, Label: "Notes", DataType: TypeText, Ops: []CleaningOp{OpTrim}, Description: "Free-form notes.", Example: "Met at spring gala"},
})
