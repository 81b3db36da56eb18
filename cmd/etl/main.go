package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pedcommons/etl/internal/admin"
	"github.com/pedcommons/etl/internal/config"
	"github.com/pedcommons/etl/internal/dictionary"
	"github.com/pedcommons/etl/internal/mapping"
	"github.com/pedcommons/etl/internal/platform/es"
	"github.com/pedcommons/etl/internal/platform/gen3"
	"github.com/pedcommons/etl/internal/platform/graphdb"
	"github.com/pedcommons/etl/internal/transform"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "etl",
		Short: "Subject-centric ETL for the data commons portal",
	}

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(transformCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(aliasCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(out io.Writer, dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Export raw graph records and save them to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.IsDev())

			data, err := extract(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return writeJSON(out, data)
		},
	}
	cmd.Flags().String("out", "extract.json", "Path for the extracted graph data")
	return cmd
}

func transformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform extracted graph data into subject documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.IsDev())

			var data map[string]transform.Project
			if err := readJSON(in, &data); err != nil {
				return err
			}

			started := time.Now()
			result, err := transformData(cmd.Context(), cfg, data, logger)
			if err != nil {
				return err
			}
			return saveResult(cfg, result, started, logger)
		},
	}
	cmd.Flags().String("in", "extract.json", "Path to the extracted graph data")
	return cmd
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load transformed subject documents into Elasticsearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.IsDev())

			var subjects []transform.Record
			if err := readJSON(cfg.LocalESFilePath, &subjects); err != nil {
				return err
			}
			return load(cmd.Context(), cfg, subjects, logger)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Extract, transform and load in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.IsDev())

			ctx := cmd.Context()
			started := time.Now()
			data, err := extract(ctx, cfg, logger)
			if err != nil {
				return err
			}
			result, err := transformData(ctx, cfg, data, logger)
			if err != nil {
				return err
			}
			if err := saveResult(cfg, result, started, logger); err != nil {
				return err
			}
			return load(ctx, cfg, result.Subjects, logger)
		},
	}
}

func aliasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Repoint the portal aliases to a new index pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			oldIndex, _ := cmd.Flags().GetString("old")
			newIndex, _ := cmd.Flags().GetString("new")
			if oldIndex == "" || newIndex == "" {
				return fmt.Errorf("--old and --new are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.IsDev())

			loader, err := newLoader(cfg, logger)
			if err != nil {
				return err
			}
			return loader.SwitchAlias(cmd.Context(), oldIndex, newIndex)
		},
	}
	cmd.Flags().String("old", "", "Index the aliases currently point at")
	cmd.Flags().String("new", "", "Index the aliases should point at")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.IsDev())

			store := dictionary.NewStore(cfg.DictionaryURL, logger)
			return admin.NewServer(store, summaryPath(cfg.LocalESFilePath), logger).Start(cfg.Port)
		},
	}
}

// extract exports every configured node type for every configured project,
// from the graph database when GRAPH_DATABASE_URL is set and through the
// submission API otherwise.
func extract(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (map[string]transform.Project, error) {
	projects, err := cfg.Projects()
	if err != nil {
		return nil, err
	}
	nodeTypes, err := cfg.NodeTypeList()
	if err != nil {
		return nil, err
	}

	if cfg.GraphDatabaseURL != "" {
		ex, err := graphdb.New(ctx, cfg.GraphDatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		defer ex.Close()
		return ex.Extract(ctx, projects, nodeTypes)
	}

	auth, err := gen3.NewAuthFromFile(cfg.BaseURL, cfg.CredentialsPath, logger)
	if err != nil {
		return nil, err
	}
	return gen3.NewClient(cfg.BaseURL, auth, logger).Extract(ctx, projects, nodeTypes)
}

func transformData(ctx context.Context, cfg *config.Config, data map[string]transform.Project, logger zerolog.Logger) (*transform.Result, error) {
	nodeTypes, err := cfg.NodeTypeList()
	if err != nil {
		return nil, err
	}

	schema, err := dictionary.NewStore(cfg.DictionaryURL, logger).Schema(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := dictionary.BuildRules(schema, dictionary.DefaultRulesConfig())
	if err != nil {
		return nil, err
	}
	policy, err := transform.ParseSuppressionPolicy(cfg.SuppressedFields)
	if err != nil {
		return nil, err
	}

	return transform.NewAssembler(schema, rules, policy, logger).Generate(data, nodeTypes)
}

// saveResult writes the subject documents to LOCAL_ES_FILE_PATH, the run
// summary the admin server serves, and, when the run flagged any records,
// the problem records next to them.
func saveResult(cfg *config.Config, result *transform.Result, started time.Time, logger zerolog.Logger) error {
	if err := writeJSON(cfg.LocalESFilePath, result.Subjects); err != nil {
		return err
	}

	summary := admin.RunSummary{
		RunID:     result.RunID,
		StartedAt: started,
		Duration:  time.Since(started).String(),
		Subjects:  len(result.Subjects),
		Problems:  len(result.Problems),
	}
	if err := admin.SaveRunSummary(summaryPath(cfg.LocalESFilePath), summary); err != nil {
		logger.Warn().Err(err).Msg("unable to save run summary")
	}

	if len(result.Problems) > 0 {
		path := problemsPath(cfg.LocalESFilePath)
		logger.Warn().Int("problems", len(result.Problems)).Str("path", path).Msg("run flagged problem records")
		return writeJSON(path, result.Problems)
	}
	return nil
}

func problemsPath(subjectsPath string) string {
	return strings.TrimSuffix(subjectsPath, ".json") + "_problems.json"
}

func summaryPath(subjectsPath string) string {
	return strings.TrimSuffix(subjectsPath, ".json") + "_run.json"
}

func load(ctx context.Context, cfg *config.Config, subjects []transform.Record, logger zerolog.Logger) error {
	schema, err := dictionary.NewStore(cfg.DictionaryURL, logger).Schema(ctx)
	if err != nil {
		return err
	}
	indexMapping, err := mapping.Generate(schema)
	if err != nil {
		return err
	}

	loader, err := newLoader(cfg, logger)
	if err != nil {
		return err
	}

	index := cfg.IndexName
	if index == "" {
		index = es.DataAlias + "_" + time.Now().Format("20060102_1504")
	}
	if err := loader.CreateIndex(ctx, index, indexMapping); err != nil {
		return err
	}
	if err := loader.LoadData(ctx, index, subjects); err != nil {
		return err
	}
	return loader.LoadArrayConfig(ctx, index)
}

func newLoader(cfg *config.Config, logger zerolog.Logger) (*es.Loader, error) {
	client, err := es.NewClient(cfg.ESURL, time.Duration(cfg.ESRequestTimeout)*time.Second)
	if err != nil {
		return nil, err
	}
	loader := es.NewLoader(client, logger)
	loader.BatchSize = cfg.ESBulkBatchSize
	loader.MaxTries = cfg.ESBulkMaxTries
	loader.RetryDelay = time.Duration(cfg.ESBulkRetryDelay) * time.Second
	return loader, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
