package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/jobs"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the runtime environment",
	Long: `Check everything the service needs before it takes jobs: the
configuration, the git and latexmk binaries, the template repository, the
writable directories, and the Redis backend when one is configured.

Exits non-zero when any check fails, so it slots into container health
probes and CI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	Name       string
	Status     string // "ok", "warning", "error"
	Message    string
	Suggestion string
}

func runDoctor(ctx context.Context) error {
	cfg, cfgErr := config.Load()

	results := []checkResult{checkConfig(cfgErr)}
	results = append(results, checkBinary("git", "git"))

	latexmk := "latexmk"
	if cfg != nil && cfg.Latex.LatexmkPath != "" {
		latexmk = cfg.Latex.LatexmkPath
	}
	results = append(results, checkBinary("latexmk", latexmk))

	if cfg != nil {
		results = append(results,
			checkTemplateRepo(ctx, cfg.Paths.TemplateRoot),
			checkWritable("export root", cfg.Paths.ExportRoot),
			checkWritable("error log root", cfg.Paths.ErrorLogRoot),
		)
		if cfg.Store.Backend == config.StoreRedis {
			results = append(results, checkRedis(cfg.Store.Redis))
		}
	}

	failed := 0
	for _, result := range results {
		icon := "✅"
		switch result.Status {
		case "warning":
			icon = "⚠️"
		case "error":
			icon = "❌"
			failed++
		}
		fmt.Printf("%s %s: %s\n", icon, result.Name, result.Message)
		if result.Suggestion != "" {
			fmt.Printf("   %s\n", result.Suggestion)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkConfig(err error) checkResult {
	if err != nil {
		return checkResult{
			Name:       "configuration",
			Status:     "error",
			Message:    err.Error(),
			Suggestion: "Fix the config file or the SERIALPDF_ environment, then re-run.",
		}
	}
	return checkResult{Name: "configuration", Status: "ok", Message: "loaded"}
}

func checkBinary(name, binary string) checkResult {
	path, err := exec.LookPath(binary)
	if err != nil {
		return checkResult{
			Name:       name,
			Status:     "error",
			Message:    fmt.Sprintf("%s not found in PATH", binary),
			Suggestion: fmt.Sprintf("Install %s or point the configuration at the binary.", name),
		}
	}
	return checkResult{Name: name, Status: "ok", Message: path}
}

// checkTemplateRepo verifies the template root is inside a git work tree.
// Commit pinning needs real history, a bare directory of .tex files is not
// enough.
func checkTemplateRepo(ctx context.Context, root string) checkResult {
	if _, err := os.Stat(root); err != nil {
		return checkResult{
			Name:       "template repository",
			Status:     "error",
			Message:    fmt.Sprintf("%s does not exist", root),
			Suggestion: "Clone the template repository to paths.template_root.",
		}
	}

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return checkResult{
			Name:       "template repository",
			Status:     "error",
			Message:    fmt.Sprintf("%s is not a git work tree", root),
			Suggestion: "Jobs are pinned to commits; the template root must be a git checkout.",
		}
	}

	return checkResult{Name: "template repository", Status: "ok", Message: root}
}

func checkWritable(name, dir string) checkResult {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkResult{
			Name:    name,
			Status:  "error",
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
		}
	}

	probe, err := os.CreateTemp(dir, ".doctor_*")
	if err != nil {
		return checkResult{
			Name:       name,
			Status:     "error",
			Message:    fmt.Sprintf("%s is not writable: %v", dir, err),
			Suggestion: "Check ownership and permissions on the directory.",
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return checkResult{Name: name, Status: "ok", Message: dir}
}

func checkRedis(cfg config.RedisConfig) checkResult {
	store, err := jobs.NewRedisStore(cfg)
	if err != nil {
		return checkResult{
			Name:       "redis",
			Status:     "error",
			Message:    err.Error(),
			Suggestion: "Check store.redis.addr and credentials, or switch store.backend to memory.",
		}
	}
	store.Close()

	return checkResult{Name: "redis", Status: "ok", Message: cfg.Addr}
}
