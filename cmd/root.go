package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/sploitprobe/pkg/adk"
	"github.com/user/sploitprobe/pkg/config"
	"github.com/user/sploitprobe/pkg/reporter"
)

var rootCmd = &cobra.Command{
	Use:   "sploitprobe",
	Short: "Turn trending exploit advisories into deployed detection probes",
	Long: `sploitprobe pulls trending advisories from Sploitus, asks a language model
for a detection probe per advisory, deploys each probe as an AWS Lambda
function and invokes it against the configured targets.`,
	SilenceUsage: true,
}

var (
	DebugMode    bool
	configPath   string
	outputFormat string
)

// vp carries environment overrides and bound flags.
var vp = config.NewViper()

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.sploitprobe/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format ("+strings.Join(reporter.Formats, ", ")+")")

	rootCmd.PersistentFlags().String("provider", "", "LLM provider ("+strings.Join(adk.Providers, ", ")+")")
	rootCmd.PersistentFlags().String("model", "", "Model name")
	rootCmd.PersistentFlags().String("store-dsn", "", "SQLite database path")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	_ = vp.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = vp.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	_ = vp.BindPFlag("store.dsn", rootCmd.PersistentFlags().Lookup("store-dsn"))
	_ = vp.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = vp.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// loadConfig reads the config file, applies environment and flag overrides
// and validates the result.
func loadConfig() (*config.Config, error) {
	config.Path = configPath
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	config.MergeViper(cfg, vp)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the structured logger for pipeline events and installs
// it as the slog default. --debug forces the debug level.
func newLogger(lc config.LogConfig, w io.Writer) *slog.Logger {
	adk.DebugEnabled = DebugMode

	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if DebugMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if lc.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

func validOutput() error {
	for _, f := range reporter.Formats {
		if f == outputFormat {
			return nil
		}
	}
	return fmt.Errorf("unknown output format %q", outputFormat)
}
