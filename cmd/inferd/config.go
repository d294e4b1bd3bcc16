package main

import (
	"strings"

	"github.com/spf13/cobra"

	"inferd/internal/config"
)

type serveOptions struct {
	configPath   string
	addr         string
	modelsDir    string
	defaultModel string
	budgetMB     int
	margin       float64
	probe        bool
	unloadPolicy string
	logLevel     string
	logFormat    string
	corsOrigins  string
	auditPath    string
}

// buildConfig assembles the effective configuration. Precedence, lowest to
// highest: config file, INFERD_* environment, flags set on the command line.
func buildConfig(cmd *cobra.Command, opts serveOptions) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = opts.addr
	}
	if flags.Changed("models-dir") {
		cfg.ModelsDir = opts.modelsDir
	}
	if flags.Changed("default-model") {
		cfg.DefaultModel = opts.defaultModel
	}
	if flags.Changed("budget-mb") {
		cfg.BudgetMB = opts.budgetMB
	}
	if flags.Changed("margin") {
		cfg.Margin = opts.margin
	}
	if flags.Changed("probe") {
		cfg.Probe = opts.probe
	}
	if flags.Changed("unload-policy") {
		cfg.UnloadPolicy = opts.unloadPolicy
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("cors-origins") {
		cfg.CORS.Enabled = true
		cfg.CORS.Origins = splitCSV(opts.corsOrigins)
	}
	if flags.Changed("audit-db") {
		cfg.Audit.Path = opts.auditPath
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// splitCSV splits a comma-separated flag value, trimming whitespace and
// dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
