package spreadsheet

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/donor-import/internal/model"
)

// TemplateSheetName is the worksheet name of generated import templates.
const TemplateSheetName = "Donors"

// WriteTemplate writes an .xlsx import template with one header row of field
// labels and one example row. The combined-name field is omitted since first
// and last name have their own columns.
func WriteTemplate(w io.Writer, reg *model.FieldRegistry) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(TemplateSheetName)
	if err != nil {
		return eris.Wrap(err, "template: add sheet")
	}

	header := sheet.AddRow()
	example := sheet.AddRow()
	for _, spec := range reg.Fields {
		if spec.Name == model.FieldFullName {
			continue
		}
		header.AddCell().SetString(spec.Label)
		example.AddCell().SetString(spec.Example)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "template: write workbook")
	}
	return nil
}
