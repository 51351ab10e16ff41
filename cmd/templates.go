package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/logging"
	"github.com/xorwow/serial-pdf/internal/registry"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the templates in the template root",
	Long: `Scan the template root and print the ID of every directory that
contains an entry file. IDs are paths relative to the root, so nested
templates print as letters/cover.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return runTemplates(asJSON)
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.Flags().Bool("json", false, "print a JSON array instead of lines")
}

func runTemplates(asJSON bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	reg, err := registry.New(cfg.Paths.TemplateRoot, cfg.Template.EntryFile, 0, logging.Nop())
	if err != nil {
		return err
	}
	defer reg.Close()

	ids := reg.IDs()
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(ids)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
