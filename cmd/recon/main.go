package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/Recon/internal/log"
	"github.com/CZERTAINLY/Recon/internal/model"
)

const configName = "recon.yaml"

var (
	userConfigPath string // $XDG_CONFIG_HOME/recon
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagDomain         string // run --domain
	flagURL            string // run --url
	flagKeep           bool   // run --keep
)

func init() {
	userConfigPath = filepath.Join(xdg.ConfigHome, "recon")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in "+userConfigPath+" or in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringVar(&flagDomain, "domain", "", "domain to run the recon for")
	runCmd.Flags().StringVar(&flagURL, "url", "", "optional seed URL passed to the discovery tool")
	runCmd.Flags().BoolVar(&flagKeep, "keep", false, "keep the working folder on exit")
	_ = runCmd.MarkFlagRequired("domain")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initRecon

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("recon failed", "err", err)
		cancel()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "recon",
	Short:        "Launches the address range discovery, data receiver and scanner tools",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the recon dashboard and start a pipeline for each POST /run",
	RunE:  doServe,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a single pipeline, waits until every stage exits or recon is interrupted",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a recon",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("recon: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("recon:  %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initRecon(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("RECONCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	v := model.NewViper()
	if configPath == "" {
		// store default configuration
		path := filepath.Join(userConfigPath, configName)
		if err := storeDefaultConfig(path); err != nil {
			slog.Warn("can't store default configuration, using defaults", "path", path, "error", err)
		} else {
			configPath = path
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	var err error
	config, err = model.LoadConfig(v)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, config.Log.Format, config.Verbose))

	slog.Debug("recon run", "configPath", configPath)
	slog.Debug("recon run", "config", config)
	return nil
}

func storeDefaultConfig(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	defer func() {
		_ = enc.Close()
	}()
	if err := enc.Encode(model.DefaultConfig()); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
