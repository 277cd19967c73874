// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the fileconv CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/fileconv/internal/secrets"
	"github.com/pdiddy/fileconv/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the resolved configuration, set before any command runs.
	cfg types.Config

	// loadedSecrets holds credentials loaded from the secrets directory at startup.
	loadedSecrets map[string]string
)

// rootCmd is the base command for the fileconv CLI.
var rootCmd = &cobra.Command{
	Use:   "fileconv",
	Short: "Upload files and convert them to other formats",
	Long: `fileconv uploads local files to a storage backend with resumable,
chunked transfers and converts them into a target format.

Use convert for one-shot batch conversions from the command line, or serve
to run the HTTP API with a live websocket progress stream. Storage backends
(fs, s3, minio, nats) and conversion backends (stub, remote, container) are
selected in fileconv.yaml or with FILECONV_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(); err != nil {
			return err
		}
		slog.SetDefault(newLogger(cfg.Log, os.Stderr))

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			slog.Debug("loaded secrets", "keys", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./fileconv.yaml or ~/.config/fileconv/fileconv.yaml)")
	pf.String("secrets-dir", ".secrets", "directory of credential files")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("storage", "", "storage backend: fs, s3, minio, or nats")
	pf.String("backend", "", "conversion backend: stub, remote, or container")

	viper.BindPFlag("log.level", pf.Lookup("log-level"))
	viper.BindPFlag("storage.backend", pf.Lookup("storage"))
	viper.BindPFlag("conversion.backend", pf.Lookup("backend"))
}

func initConfig() {
	setDefaults(types.DefaultConfig())

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("fileconv")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "fileconv"))
		}
	}

	viper.SetEnvPrefix("FILECONV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
