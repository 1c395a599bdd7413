// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the marcalink CLI.
// It hosts the storage server and gives command-line access to projects,
// papers and settings through the storage facade.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/marcalink/internal/logging"
	"github.com/pdiddy/marcalink/internal/storage"
	"github.com/pdiddy/marcalink/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the marcalink CLI.
var rootCmd = &cobra.Command{
	Use:   "marcalink",
	Short: "Track research projects and the papers found while snowballing",
	Long: `marcalink stores research projects, the papers collected for them, and
user settings. Storage is either a local data directory or a marcalink
server reached over a WebSocket; in remote mode settings written while the
server is unreachable are kept in a local cache and sent once it is back.

Run "marcalink serve" to host a data directory for remote clients.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./marcalink.yaml or ~/.config/marcalink/marcalink.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "print results as JSON")
	rootCmd.PersistentFlags().String("mode", "", "storage mode: filesystem or remote (overrides config)")
	rootCmd.PersistentFlags().String("data-dir", "", "filesystem data directory (overrides config)")
	rootCmd.PersistentFlags().String("url", "", "server WebSocket URL for remote mode (overrides config)")

	_ = viper.BindPFlag("storage.mode", rootCmd.PersistentFlags().Lookup("mode"))
	_ = viper.BindPFlag("storage.base_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("client.url", rootCmd.PersistentFlags().Lookup("url"))
}

func initConfig() {
	setDefaults()

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("marcalink")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "marcalink"))
		}
	}

	viper.SetEnvPrefix("MARCALINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults() {
	def := types.DefaultConfig()
	viper.SetDefault("storage.mode", string(def.Storage.Mode))
	viper.SetDefault("storage.base_dir", def.Storage.BaseDir)
	viper.SetDefault("server.addr", def.Server.Addr)
	viper.SetDefault("server.path", def.Server.Path)
	viper.SetDefault("client.url", def.Client.URL)
	viper.SetDefault("client.open_timeout", def.Client.OpenTimeout)
	viper.SetDefault("client.request_timeout", def.Client.RequestTimeout)
	viper.SetDefault("client.reconnect_min", def.Client.ReconnectMin)
	viper.SetDefault("client.reconnect_max", def.Client.ReconnectMax)
	viper.SetDefault("client.cache_file", defaultCacheFile())
	viper.SetDefault("project.current", "")
	viper.SetDefault("log.level", def.Log.Level)
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	viper.SetDefault("log.max_backups", def.Log.MaxBackups)
}

func defaultCacheFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cache", "marcalink", "cache.db")
}

// loadConfig returns the merged configuration.
func loadConfig() (types.Config, error) {
	cfg := types.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the CLI logger from cfg.
func newLogger(cfg types.Config) (*log.Logger, io.Closer, error) {
	return logging.New(cfg.Log, os.Stderr)
}

// withStorage runs fn against an initialized storage service and shuts it
// down afterwards.
func withStorage(cmd *cobra.Command, fn func(ctx context.Context, s *storage.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc := storage.New(cfg, storage.WithLogger(logger))
	if err := svc.Init(ctx); err != nil {
		return err
	}
	defer func() {
		if err := svc.Shutdown(context.Background()); err != nil {
			logger.Warn("storage shutdown", "err", err)
		}
	}()

	if cfg.Storage.Mode == types.ModeRemote && !svc.WaitReady(ctx) {
		logger.Warn("server unreachable, working offline", "url", cfg.Client.URL)
	}
	return fn(ctx, svc)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
