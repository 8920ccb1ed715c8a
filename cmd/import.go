package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/auth"
	"github.com/sells-group/donor-import/internal/fetcher"
	"github.com/sells-group/donor-import/internal/model"
)

var (
	importMappingFile  string
	importMappingOut   string
	importSkipDupes    bool
	importUpdate       bool
	importWelcome      bool
	importPollInterval time.Duration
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Preview, analyze, validate and run donor imports",
	Long:  "Each subcommand takes a local path, file:// path, http(s):// URL or ftp:// URL to a CSV or Excel file.",
}

var importPreviewCmd = &cobra.Command{
	Use:   "preview <source>",
	Short: "Show headers and the first rows of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := openSource(ctx, env.Opener, args[0])
		if err != nil {
			return err
		}
		res, err := env.Service.Preview(f.Data, f.Name)
		if err != nil {
			return eris.Wrap(err, "preview")
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

var importAnalyzeCmd = &cobra.Command{
	Use:   "analyze <source>",
	Short: "Propose a column-to-field mapping for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := callerContext(cmd.Context())
		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := openSource(ctx, env.Opener, args[0])
		if err != nil {
			return err
		}
		res, err := env.Service.Analyze(ctx, f.Data, f.Name)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		if importMappingOut != "" {
			if err := writeMappingFile(importMappingOut, res.FieldMappings); err != nil {
				return err
			}
			zap.L().Info("mapping written", zap.String("path", importMappingOut))
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

var importValidateCmd = &cobra.Command{
	Use:   "validate <source>",
	Short: "Dry-run cleaning and duplicate checks without writing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := callerContext(cmd.Context())
		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		mappings, err := readMappingFile(importMappingFile)
		if err != nil {
			return err
		}
		f, err := openSource(ctx, env.Opener, args[0])
		if err != nil {
			return err
		}
		res, err := env.Service.Validate(ctx, f.Data, f.Name, mappings, importOptions())
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

var importRunCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Import a file as a tracked job and wait for it to finish",
	Long:  "Starts an import job and reports progress until it reaches a terminal state. An interrupt requests cancellation; the job stops at the next batch boundary.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(callerContext(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		mappings, err := readMappingFile(importMappingFile)
		if err != nil {
			return err
		}
		f, err := openSource(ctx, env.Opener, args[0])
		if err != nil {
			return err
		}

		job, err := env.Service.Submit(ctx, f.Data, f.Name, mappings, importOptions())
		if err != nil {
			return eris.Wrap(err, "submit import")
		}
		zap.L().Info("import job started",
			zap.String("job_id", job.ID),
			zap.String("file", job.FileName),
		)

		final, err := awaitJob(ctx, env, job.ID, importPollInterval)
		if err != nil {
			return err
		}
		if err := writeJSON(cmd.OutOrStdout(), final); err != nil {
			return err
		}
		if final.Status == model.JobStatusFailed {
			return eris.Errorf("import %s failed: %s", final.ID, final.FailureReason)
		}
		return nil
	},
}

func init() {
	importAnalyzeCmd.Flags().StringVarP(&importMappingOut, "output", "o", "", "write the proposed field mappings to this JSON file")

	for _, c := range []*cobra.Command{importValidateCmd, importRunCmd} {
		c.Flags().StringVar(&importMappingFile, "mapping", "", "JSON file of field mappings (default: infer)")
		c.Flags().BoolVar(&importSkipDupes, "skip-duplicates", false, "skip rows that match an existing donor")
		c.Flags().BoolVar(&importUpdate, "update-existing", false, "merge rows into matching donors")
	}
	importRunCmd.Flags().BoolVar(&importWelcome, "welcome", false, "send a welcome notification for each created donor")
	importRunCmd.Flags().DurationVar(&importPollInterval, "poll", 2*time.Second, "progress reporting interval")

	importCmd.AddCommand(importPreviewCmd, importAnalyzeCmd, importValidateCmd, importRunCmd)
	rootCmd.AddCommand(importCmd)
}

func importOptions() model.ImportOptions {
	return model.ImportOptions{
		SkipDuplicates:          importSkipDupes,
		UpdateExisting:          importUpdate,
		SendWelcomeNotification: importWelcome,
	}
}

// awaitJob polls the job until it is terminal. Once ctx is done it requests
// cancellation and keeps polling so the final state is reported.
func awaitJob(ctx context.Context, env *importEnv, id string, every time.Duration) (*model.ImportJob, error) {
	if every <= 0 {
		every = 2 * time.Second
	}
	pollCtx := auth.WithCaller(context.Background(), auth.CallerFrom(ctx))
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		view, err := env.Service.Status(pollCtx, id)
		if err != nil {
			return nil, eris.Wrap(err, "job status")
		}
		if view.Status.Terminal() {
			return view.ImportJob, nil
		}
		zap.L().Info("import progress",
			zap.String("job_id", id),
			zap.String("status", string(view.Status)),
			zap.Int("processed", view.ProcessedRows),
			zap.Int("total", view.TotalRows),
			zap.Float64("eta_seconds", view.EstimatedSecondsRemaining),
		)

		select {
		case <-done:
			done = nil
			if err := env.Service.Cancel(pollCtx, id, "interrupted"); err != nil {
				zap.L().Warn("request cancellation", zap.Error(err))
			}
		case <-ticker.C:
		}
	}
}

// callerContext attaches the --user identity.
func callerContext(ctx context.Context) context.Context {
	return auth.WithCaller(ctx, asCaller)
}

func openSource(ctx context.Context, o *fetcher.Opener, source string) (*fetcher.File, error) {
	f, err := o.Open(ctx, source, cfg.Import.MaxFileBytes)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", source)
	}
	return f, nil
}

func readMappingFile(path string) ([]model.FieldMapping, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read mapping file")
	}
	var mappings []model.FieldMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, eris.Wrapf(err, "parse mapping file %s", path)
	}
	return mappings, nil
}

func writeMappingFile(path string, mappings []model.FieldMapping) error {
	data, err := json.MarshalIndent(mappings, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode mappings")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrap(err, "write mapping file")
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
