// Package config provides configuration management for serial-pdf using
// Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// Sources are layered: flags bound per command, SERIALPDF_-prefixed
// environment variables, and a .serial-pdf.yml file. Required paths (template
// root, export root, error-log root) have no defaults and must be supplied by
// one of the sources.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xorwow/serial-pdf/internal/errors"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Template TemplateConfig `yaml:"template" mapstructure:"template"`
	Latex    LatexConfig    `yaml:"latex" mapstructure:"latex"`
	ErrorLog ErrorLogConfig `yaml:"error_log" mapstructure:"error_log"`
	Jobs     JobsConfig     `yaml:"jobs" mapstructure:"jobs"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// PathsConfig names every directory the service touches. None are hardcoded.
type PathsConfig struct {
	// TemplateRoot must be the root of a git work tree holding the templates.
	TemplateRoot string `yaml:"template_root" mapstructure:"template_root"`
	// ExportRoot receives collected PDFs as <jobID>.pdf.
	ExportRoot string `yaml:"export_root" mapstructure:"export_root"`
	// ErrorLogRoot receives filtered build logs as <jobID>.log.
	ErrorLogRoot string `yaml:"error_log_root" mapstructure:"error_log_root"`
	// LogDir enables the file logger when set.
	LogDir string `yaml:"log_dir" mapstructure:"log_dir"`
}

type TemplateConfig struct {
	// EntryFile is the compilation entry within each template folder.
	EntryFile string `yaml:"entry_file" mapstructure:"entry_file"`
	// StyleFile names the macro package file excluded from unmatched
	// placeholder reports.
	StyleFile string `yaml:"style_file" mapstructure:"style_file"`
}

type LatexConfig struct {
	// LatexmkPath is the latexmk binary (or a bare name resolved via PATH).
	LatexmkPath string `yaml:"latexmk_path" mapstructure:"latexmk_path"`
	// LatexmkArgs come before the generated --auxdir/--outdir/--jobname args.
	// latexmk treats quotes literally, so none may contain quoting.
	LatexmkArgs []string `yaml:"latexmk_args" mapstructure:"latexmk_args"`
	// Timeout bounds one latexmk invocation.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// VerifyPDF runs a structural check on the produced PDF and records its
	// page count.
	VerifyPDF bool `yaml:"verify_pdf" mapstructure:"verify_pdf"`
}

type ErrorLogConfig struct {
	// MaxFiles is the soft cap on stored build logs.
	MaxFiles int `yaml:"max_files" mapstructure:"max_files"`
	// PruneExtra delays pruning until MaxFiles+PruneExtra is exceeded so the
	// pruner does not run on every write near capacity.
	PruneExtra int `yaml:"prune_extra" mapstructure:"prune_extra"`
}

type JobsConfig struct {
	// Concurrency is the worker pool size.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// QueueSize bounds the submission queue; submits beyond it fail fast.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
	// ShutdownMode is "drain" (let in-flight jobs finish) or "abandon".
	ShutdownMode string `yaml:"shutdown_mode" mapstructure:"shutdown_mode"`
}

type StoreConfig struct {
	// Backend selects the job store: "memory" or "redis".
	Backend string      `yaml:"backend" mapstructure:"backend"`
	Redis   RedisConfig `yaml:"redis" mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	// KeyPrefix namespaces job records.
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
	// TTL ages out records left behind by dead processes.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ShutdownMode values.
const (
	ShutdownDrain   = "drain"
	ShutdownAbandon = "abandon"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// SetDefaults registers every default value on the global viper instance.
// Called before flag binding so flags and env vars override cleanly.
func SetDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	viper.SetDefault("template.entry_file", "main.tex")
	viper.SetDefault("template.style_file", "serial-pdf.sty")

	viper.SetDefault("latex.latexmk_path", "latexmk")
	viper.SetDefault("latex.latexmk_args", []string{
		"--gg",
		"--cd",
		"--interaction=nonstopmode",
		"--pdf",
		"-f",
	})
	viper.SetDefault("latex.timeout", time.Minute)
	viper.SetDefault("latex.verify_pdf", true)

	viper.SetDefault("error_log.max_files", 50)
	viper.SetDefault("error_log.prune_extra", 5)

	viper.SetDefault("jobs.concurrency", 4)
	viper.SetDefault("jobs.queue_size", 256)
	viper.SetDefault("jobs.shutdown_mode", ShutdownDrain)

	viper.SetDefault("store.backend", StoreMemory)
	viper.SetDefault("store.redis.addr", "localhost:6379")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.key_prefix", "serialpdf:job:")
	viper.SetDefault("store.redis.ttl", 24*time.Hour)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

func Load() (*Config, error) {
	SetDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validatePathsConfig(&config.Paths); err != nil {
		return fmt.Errorf("paths config: %w", err)
	}

	if err := validateLatexConfig(&config.Latex); err != nil {
		return fmt.Errorf("latex config: %w", err)
	}

	if err := validateErrorLogConfig(&config.ErrorLog); err != nil {
		return fmt.Errorf("error_log config: %w", err)
	}

	if err := validateJobsConfig(&config.Jobs); err != nil {
		return fmt.Errorf("jobs config: %w", err)
	}

	if err := validateStoreConfig(&config.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	return nil
}

func validateServerConfig(config *ServerConfig) error {
	if config.Port < 0 || config.Port > 65535 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port))
	}

	return nil
}

func validatePathsConfig(config *PathsConfig) error {
	if config.TemplateRoot == "" {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "template_root is required")
	}
	if config.ExportRoot == "" {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "export_root is required")
	}
	if config.ErrorLogRoot == "" {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "error_log_root is required")
	}

	info, err := os.Stat(config.TemplateRoot)
	if err != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("template_root %q is not accessible: %v", config.TemplateRoot, err))
	}
	if !info.IsDir() {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("template_root %q is not a directory", config.TemplateRoot))
	}

	return nil
}

func validateLatexConfig(config *LatexConfig) error {
	if config.LatexmkPath == "" {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "latexmk_path is required")
	}
	if config.Timeout <= 0 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "timeout must be positive")
	}
	for _, arg := range config.LatexmkArgs {
		if strings.ContainsAny(arg, `"'`) {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("latexmk_args entry %q contains quoting, latexmk takes quotes literally", arg))
		}
	}

	return nil
}

func validateErrorLogConfig(config *ErrorLogConfig) error {
	if config.MaxFiles < 1 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "max_files must be at least 1")
	}
	if config.PruneExtra < 0 || config.PruneExtra > config.MaxFiles {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("prune_extra must be between 0 and max_files (%d)", config.MaxFiles))
	}

	return nil
}

func validateJobsConfig(config *JobsConfig) error {
	if config.Concurrency < 1 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "concurrency must be at least 1")
	}
	if config.QueueSize < 1 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "queue_size must be at least 1")
	}
	if config.ShutdownMode != ShutdownDrain && config.ShutdownMode != ShutdownAbandon {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("shutdown_mode must be %q or %q", ShutdownDrain, ShutdownAbandon))
	}

	return nil
}

func validateStoreConfig(config *StoreConfig) error {
	switch config.Backend {
	case StoreMemory:
		return nil
	case StoreRedis:
		if config.Redis.Addr == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "redis addr is required for the redis backend")
		}
		if config.Redis.TTL <= 0 {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "redis ttl must be positive")
		}
		return nil
	default:
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("store backend must be %q or %q", StoreMemory, StoreRedis))
	}
}
