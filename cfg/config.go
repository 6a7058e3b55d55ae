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

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	// Db is the path to the SQLite database backing the mount. Required.
	Db string `yaml:"db"`

	// Foreground keeps the process attached to the terminal instead of
	// daemonizing after the mount succeeds.
	Foreground bool `yaml:"foreground"`

	Debug DebugConfig `yaml:"debug"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Logging LoggingConfig `yaml:"logging"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type FileSystemConfig struct {
	// FileMode caps the permission bits of new regular files created
	// through the mount, after Umask has been cleared from the requested
	// mode. Symlinks always get 0755 and are not affected.
	FileMode Octal `yaml:"file-mode"`

	// DirMode caps the permission bits of new directories, after Umask has
	// been cleared from the requested mode.
	DirMode Octal `yaml:"dir-mode"`

	// Umask is cleared from the mode bits passed to mkdir/mknod before
	// they are stored (symlink permission bits are always ignored on
	// Linux, matching the kernel's own behavior), and is also applied as
	// the mounting process's umask so any raw file I/O relfs itself does
	// observes the same mask.
	Umask Octal `yaml:"umask"`

	// Uid is the owning uid given to inodes created through this mount;
	// existing inodes keep the owner stored with them. -1 means "use the
	// mounting process's own uid".
	Uid int `yaml:"uid"`

	Gid int `yaml:"gid"`
}

type LoggingConfig struct {
	Severity string `yaml:"severity"`

	Format string `yaml:"format"`

	FilePath ResolvedPath `yaml:"file-path"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name of this mount.")

	err = viper.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.StringP("db", "", "", "Path to the SQLite database backing the mount.")

	err = viper.BindPFlag("db", flagSet.Lookup("db"))
	if err != nil {
		return err
	}

	flagSet.BoolP("foreground", "", false, "Stay in the foreground after mounting instead of daemonizing.")

	err = viper.BindPFlag("foreground", flagSet.Lookup("foreground"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Permissions bits for new files, in octal.")

	err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Permissions bits for new directories, in octal.")

	err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("umask", "", 022, "Bits cleared from file-mode/dir-mode (and the process umask) when creating new inodes, in octal.")

	err = viper.BindPFlag("file-system.umask", flagSet.Lookup("umask"))
	if err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of inodes created through this mount. -1 means use the mounting process's own uid.")

	err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid"))
	if err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of inodes created through this mount. -1 means use the mounting process's own gid.")

	err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Logging severity. One of TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")

	err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "json", "Logging output format, text or json.")

	err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a file to write logs to, instead of stderr.")

	err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	return nil
}
