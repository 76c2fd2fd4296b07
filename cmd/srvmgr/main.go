package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/CZERTAINLY/srvmgr/internal/log"
	"github.com/CZERTAINLY/srvmgr/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SRVMGR"

var (
	userConfigPath string // /default/config/path/srvmgr on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logCloser      io.Closer = io.NopCloser(nil)

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagServer         string // value of --server flag
)

// errReported is returned by commands which already told the operator what
// went wrong.
var errReported = errors.New("reported")

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "srvmgr")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is srvmgr.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.Flags().StringVar(&flagServer, "server", "", "server executable, takes precedence over the path file")

	// flags can be set via SRVMGR_CONFIG, SRVMGR_VERBOSE and SRVMGR_SERVER too
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("server", rootCmd.Flags().Lookup("server"))

	// never print messages
	rootCmd.SilenceErrors = true

	// parse a config, setup logging
	rootCmd.PersistentPreRunE = initManager

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	_ = logCloser.Close()
	if err != nil {
		if !errors.Is(err, errReported) {
			slog.Error("server manager failed", "error", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "srvmgr",
	Short:        "Supervisor of a single long-running server process",
	Long:         "srvmgr starts the server, forwards its output and the operator's commands and restarts it on request.",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         doRun,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config prints the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if configPath != "" {
			_, _ = fmt.Fprintf(out, "# %s\n", configPath)
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		return enc.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a srvmgr",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("srvmgr: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("srvmgr: %s\n", info.Main.Version)
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

func initManager(cmd *cobra.Command, _ []string) error {
	configPath = viper.GetString("config")
	if configPath == "" {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "srvmgr.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		config = model.DefaultConfig()
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid configuration", "config", configPath, d.Attr("detail"))
			}
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
		config = *cfg
	}

	// --verbose has a precedence over config file
	if viper.GetBool("verbose") {
		config.Log.Verbose = true
	}

	logger, closer, err := log.New(log.Options{
		Verbose: config.Log.Verbose,
		Format:  config.Log.Format,
		Output:  config.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	slog.SetDefault(logger)
	logCloser = closer

	slog.Debug("srvmgr run", "configPath", configPath)
	slog.Debug("srvmgr run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
