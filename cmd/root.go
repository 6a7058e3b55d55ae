// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/relfs/relfs/cfg"
	"github.com/relfs/relfs/internal/util"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	dumpConfig    bool
	MountConfig   cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "relfs [flags] mount_point",
	Short: "Mount a SQLite database as a local file system",
	Long: `relfs is a FUSE file system whose entire state - namespace and file
content alike - lives in one SQLite database. Point --db at the database
file (it is created if it doesn't exist) and give a mount point.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&MountConfig); err != nil {
			return err
		}

		if dumpConfig {
			return dumpResolvedConfig(cmd.OutOrStdout())
		}

		mountPoint, err := util.GetResolvedPath(args[0])
		if err != nil {
			return fmt.Errorf("canonicalizing mount point: %w", err)
		}

		dbPath, err := util.GetResolvedPath(MountConfig.Db)
		if err != nil {
			return fmt.Errorf("canonicalizing --db path: %w", err)
		}
		MountConfig.Db = dbPath

		return runMount(cmd.Context(), mountPoint, &MountConfig)
	},
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	rootCmd.PersistentFlags().BoolVar(&dumpConfig, "dump-config", false, "Print the fully resolved configuration as YAML and exit, instead of mounting.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

// dumpResolvedConfig prints the config as it stands after flags, an
// optional --config-file and defaults have all been merged, so an operator
// can see exactly what a mount attempt would use without actually mounting.
func dumpResolvedConfig(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(&MountConfig)
}

func initConfig() {
	// No flag covers log rotation, so seed it from the startup defaults;
	// a --config-file can still override it below.
	MountConfig.Logging.LogRotate = cfg.GetDefaultLoggingConfig().LogRotate

	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig)
		return
	}

	resolved, err := util.GetResolvedPath(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("error while resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig)
}
