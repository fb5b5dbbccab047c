package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/spend-enricher/internal/app"
	"github.com/dvloznov/spend-enricher/internal/config"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/logger"
	"github.com/dvloznov/spend-enricher/internal/pipeline"
	"github.com/dvloznov/spend-enricher/internal/sources"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logJSON    bool

	cfg   *config.Config
	log   zerolog.Logger
	store *sources.GCSStore
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "spend-enricher",
		Short: "Import card transaction exports and classify them",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			if cmd.Flags().Changed("log-json") {
				cfg.Log.JSON = opts.logJSON
			}
			opts.cfg = cfg
			opts.log = logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: cmd.ErrOrStderr()})
			opts.store = sources.NewGCSStore()
			cmd.SetContext(logger.WithContext(cmd.Context(), opts.log))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.store != nil {
				return opts.store.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "enricher.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "log JSON lines instead of console output")

	rootCmd.AddCommand(newDetectCommand(opts))
	rootCmd.AddCommand(newIngestCommand(opts))
	rootCmd.AddCommand(newEnrichCommand(opts))

	return rootCmd
}

// importFlags select and interpret input files.
type importFlags struct {
	homeZip       string
	format        string
	mappings      []string
	acceptLowConf bool
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.homeZip, "home-zip", "", "cardholder's 5-digit home ZIP code")
	cmd.Flags().StringVar(&f.format, "format", "", "force the input format (csv, spreadsheet, json, pasted, document)")
	cmd.Flags().StringArrayVar(&f.mappings, "map", nil, "column override as field=header, repeatable")
	cmd.Flags().BoolVar(&f.acceptLowConf, "accept-low-confidence", false, "accept detected mappings without review")
}

func (f *importFlags) overrides() (map[string]string, error) {
	out := make(map[string]string, len(f.mappings))
	for _, m := range f.mappings {
		field, header, ok := strings.Cut(m, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("invalid --map %q, want field=header", m)
		}
		out[strings.TrimSpace(field)] = strings.TrimSpace(header)
	}
	return out, nil
}

// loadSources reads every argument. "-" reads pasted text from stdin.
func (f *importFlags) loadSources(ctx context.Context, opts *globalOptions, stdin io.Reader, args []string) ([]ingest.Source, error) {
	loader := sources.NewLoader(opts.store)
	srcs := make([]ingest.Source, 0, len(args))
	for _, arg := range args {
		var (
			src ingest.Source
			err error
		)
		if arg == "-" {
			data, rerr := io.ReadAll(stdin)
			if rerr != nil {
				return nil, fmt.Errorf("read stdin: %w", rerr)
			}
			src = ingest.Source{Name: "stdin.txt", Format: ingest.FormatPasted, Data: data}
		} else if src, err = loader.Load(ctx, arg); err != nil {
			return nil, err
		}
		if f.format != "" {
			src.Format = ingest.Format(f.format)
		}
		src.HomeZip = f.homeZip
		srcs = append(srcs, src)
	}
	return srcs, nil
}

func (f *importFlags) ingestor(ctx context.Context, opts *globalOptions) (*pipeline.Ingestor, error) {
	overrides, err := f.overrides()
	if err != nil {
		return nil, err
	}
	confirmer := &pipeline.OverrideConfirmer{Overrides: overrides, AcceptLowConfidence: f.acceptLowConf}
	return app.NewIngestor(ctx, opts.cfg, confirmer), nil
}

// writeOutput writes v as indented JSON to path, or to w when path is empty.
func writeOutput(ctx context.Context, opts *globalOptions, w io.Writer, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if path == "" {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}
	if err := sources.NewLoader(opts.store).Save(ctx, path, data); err != nil {
		return err
	}
	opts.log.Info().Str("path", path).Msg("Output written")
	return nil
}
