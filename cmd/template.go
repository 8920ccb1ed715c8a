package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/spreadsheet"
)

var templateOut string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Write a blank donor import template (.xlsx)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := os.Create(templateOut)
		if err != nil {
			return eris.Wrap(err, "create template file")
		}
		if err := spreadsheet.WriteTemplate(f, model.DonorSchema); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "write template")
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "close template file")
		}
		zap.L().Info("template written", zap.String("path", templateOut))
		return nil
	},
}

func init() {
	templateCmd.Flags().StringVarP(&templateOut, "output", "o", "donor-import-template.xlsx", "output path")
	rootCmd.AddCommand(templateCmd)
}
