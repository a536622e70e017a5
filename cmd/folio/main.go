package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/folio-reader/folio/internal/log"
	"github.com/folio-reader/folio/internal/model"
	"github.com/folio-reader/folio/internal/pdfops"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	userConfigPath string // /default/config/path/folio on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logCloser      io.Closer

	flagConfigFilePath string
	flagVerbose        bool
	flagMetrics        string
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "folio")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is folio.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagMetrics, "metrics", "", "serve prometheus metrics on this address, e.g. :9090")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initFolio
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	}

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(textCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("folio failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "folio",
	Short:        "Document reader toolkit: search, annotate and restructure documents",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints the version of folio and of the qpdf toolkit",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(out, "folio: version info not available")
		} else {
			fmt.Fprintf(out, "folio:  %s\n", info.Main.Version)
			fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(out, "commit: %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(out, "date:   %s\n", s.Value)
				case "vcs.modified":
					fmt.Fprintf(out, "dirty:  %s\n", s.Value)
				}
			}
		}
		if configPath != "" {
			fmt.Fprintf(out, "config: %s\n", configPath)
		}

		toolkit, err := pdfops.FromConfig(config)
		if err != nil {
			return err
		}
		v, err := toolkit.Version(cmd.Context())
		if err != nil {
			slog.DebugContext(cmd.Context(), "qpdf version probe failed", "error", err)
			v = "not available"
		}
		fmt.Fprintf(out, "qpdf:   %s (enabled: %t)\n", v, toolkit.Enabled())
		return nil
	},
}

func initFolio(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	if err := bindEnv(v); err != nil {
		return err
	}

	switch {
	case v.GetString("config") != "":
		configPath = v.GetString("config")
	case flagConfigFilePath != "":
		configPath = flagConfigFilePath
	default:
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "folio.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "folio.yaml")
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		config = *cfg
	}

	if err := overlay(&config, v); err != nil {
		return err
	}
	// --verbose has a precedence over config file and environment
	if flagVerbose {
		verbose := true
		config.Service.Verbose = &verbose
	}

	logger, closer, err := log.New(config.Verbose(), config.LogOutput())
	if err != nil {
		return err
	}
	logCloser = closer
	slog.SetDefault(logger)

	slog.Debug("folio run", "configPath", configPath)
	slog.Debug("folio run", "config", config)
	return nil
}

func loadConfig(path string) (*model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.ConfigErrDetails(err) {
			slog.Error(d.String())
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func storeConfig(path string, cfg model.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
