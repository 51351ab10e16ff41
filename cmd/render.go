package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/jobs"
	"github.com/xorwow/serial-pdf/internal/placeholder"
)

var renderCmd = &cobra.Command{
	Use:   "render <template-id>",
	Short: "Render one template synchronously",
	Long: `Render a single template straight through the compilation pipeline,
without the job queue or the HTTP API. The exported PDF path is printed to
stdout; unmatched placeholder warnings and the filtered compile log on
failure go to stderr.

Placeholder data comes from a JSON or YAML file of string or string-list
values:

  serial-pdf render invoice --data fields.yml --out ./build`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commit, _ := cmd.Flags().GetString("commit")
		dataFile, _ := cmd.Flags().GetString("data")
		outDir, _ := cmd.Flags().GetString("out")
		return runRender(cmd.Context(), args[0], commit, dataFile, outDir)
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().String("commit", "", "commit to render from (default HEAD)")
	renderCmd.Flags().StringP("data", "d", "", "placeholder data file (.json, .yml, .yaml)")
	renderCmd.Flags().StringP("out", "o", ".", "directory the PDF is exported to")
}

func runRender(ctx context.Context, templateID, commit, dataFile, outDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	data, err := loadDataFile(dataFile)
	if err != nil {
		return err
	}

	parts, err := buildPipeline(cfg, outDir, log)
	if err != nil {
		return err
	}
	defer parts.stager.Close()

	subpath, resolved, err := parts.pipeline.Validate(ctx, templateID, commit, data)
	if err != nil {
		return err
	}

	record := jobs.Record{
		ID:          jobs.NewJobID(),
		State:       jobs.StatePending,
		TemplateID:  templateID,
		Commit:      resolved,
		SubmittedAt: time.Now().UTC(),
	}

	outcome, err := parts.pipeline.Run(ctx, jobs.Task{Record: record, Subpath: subpath, Data: data})
	if err != nil {
		if output := errors.OutputOf(err); output != "" {
			fmt.Fprintln(os.Stderr, output)
		}
		return err
	}

	name, err := parts.stager.Export(ctx, record.ID, outcome.StagedPath)
	if err != nil {
		return err
	}

	for _, file := range outcome.Unmatched.Files() {
		for _, token := range outcome.Unmatched[file] {
			fmt.Fprintf(os.Stderr, "warning: unmatched placeholder %s in %s\n", token, file)
		}
	}

	fmt.Fprintf(os.Stderr, "rendered %s at %s in %.2fs\n",
		templateID, resolved, outcome.Duration.Seconds())
	fmt.Println(filepath.Join(outDir, name))
	return nil
}

// loadDataFile reads placeholder data from a JSON or YAML file. An empty
// path yields an empty data set.
func loadDataFile(path string) (map[string]placeholder.Value, error) {
	data := map[string]placeholder.Value{}
	if path == "" {
		return data, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &data)
	case ".yml", ".yaml":
		err = yaml.Unmarshal(raw, &data)
	default:
		return nil, fmt.Errorf("data file %s must be .json, .yml or .yaml", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing data file %s: %w", path, err)
	}

	return data, nil
}
