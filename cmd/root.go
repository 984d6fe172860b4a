package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	zone "github.com/lrstanley/bubblezone"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/reshuffle/internal/app"
	"github.com/zjrosen/reshuffle/internal/config"
	"github.com/zjrosen/reshuffle/internal/log"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

const (
	envPrefix         = "RESHUFFLE"
	localConfigPath   = ".reshuffle/config.yaml"
	defaultConfigPath = localConfigPath
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
	cfgErr  error
)

var rootCmd = &cobra.Command{
	Use:   "reshuffle",
	Short: "A terminal list that reshuffles its sections on every refresh",
	Long: `reshuffle shows two sections, "String Section" and "Int Section", whose rows
and order are shuffled on start-up and again on every refresh (r, a click on
the refresh button, or scrolling up past the top).`,
	Version:       version,
	SilenceUsage: true,
	RunE:         runApp,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .reshuffle/config.yaml or ~/.config/reshuffle/config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false,
		"write a debug log")
	rootCmd.PersistentFlags().String("log-file", "",
		"debug log path (default: debug.log)")
	rootCmd.PersistentFlags().Int("fail-after", 0,
		"inject a generation failure after N generations")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("generator.fail_after", rootCmd.PersistentFlags().Lookup("fail-after"))
}

// setDefaults registers every default so environment variables can
// override keys that are absent from the config file.
func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("watch_config", d.WatchConfig)
	v.SetDefault("ui.show_help", d.UI.ShowHelp)
	v.SetDefault("ui.header_color", d.UI.HeaderColor)
	v.SetDefault("ui.spinner", d.UI.Spinner)
	v.SetDefault("ui.mouse_refresh", d.UI.MouseRefresh)
	v.SetDefault("generator.validate", d.Generator.Validate)
	v.SetDefault("generator.fail_after", d.Generator.FailAfter)
	v.SetDefault("serve.addr", d.Serve.Addr)
	v.SetDefault("serve.cache_ttl", d.Serve.CacheTTL)
	v.SetDefault("serve.send_buffer", d.Serve.SendBuffer)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func initConfig() {
	// .env is optional; a malformed one is reported but not fatal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, ".env load warning: %v\n", err)
	}

	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .reshuffle/config.yaml (current directory)
		// 2. ~/.config/reshuffle/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "reshuffle"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	cfgErr = nil
	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .reshuffle/config.yaml
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if writeErr := config.WriteDefaultConfig(defaultConfigPath); writeErr == nil {
				viper.SetConfigFile(defaultConfigPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		} else {
			cfgErr = fmt.Errorf("reading config %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil && cfgErr == nil {
		cfgErr = fmt.Errorf("decoding config: %w", err)
	}
}

// checkConfig reports a config file that could not be read or decoded,
// then validates the result.
func checkConfig() error {
	if cfgErr != nil {
		return cfgErr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadConfig re-reads the active config file into a fresh Config.
func loadConfig(v *viper.Viper) (config.Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}
	var c config.Config
	if err := v.Unmarshal(&c); err != nil {
		return config.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := config.Validate(c); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// setupLogging installs the file logger when debug is on. The TUI routes
// Bubble Tea's own logging to the same file.
func setupLogging(c config.Config, tui bool) (func(), error) {
	if !c.Debug {
		return func() {}, nil
	}
	var (
		cleanup func()
		err     error
	)
	if tui {
		cleanup, err = log.InitWithTeaLog(c.LogFile, "reshuffle")
	} else {
		cleanup, err = log.Init(c.LogFile)
	}
	if err != nil {
		return nil, err
	}
	log.SetMinLevel(log.ParseLevel(c.LogLevel))
	log.Info(log.CatConfig, "Logging started", "version", version, "config", viper.ConfigFileUsed())
	return cleanup, nil
}

func runApp(_ *cobra.Command, _ []string) error {
	if err := checkConfig(); err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg, true)
	if err != nil {
		return err
	}
	defer closeLog()

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.shutdown(context.Background())

	// Store the config file path for persisting UI toggles
	configFilePath := viper.ConfigFileUsed()
	if configFilePath == "" {
		configFilePath = defaultConfigPath
	}

	zone.NewGlobal()
	model := app.New(app.Options{
		Config:     cfg,
		ConfigPath: configFilePath,
		Dispatcher: p.dispatcher,
		Reload:     func() (config.Config, error) { return loadConfig(viper.GetViper()) },
		Debug:      cfg.Debug,
	})
	prog := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	_, err = prog.Run()

	// Release dispatcher subscriptions and the config watcher
	model.Close()

	if err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
