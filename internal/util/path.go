// Copyright 2024 Google LLC
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

package util

import (
	"os"
	"path/filepath"
)

// ParentProcessDirEnv names the environment variable a daemonized process's
// parent sets to its own working directory before re-exec'ing, so that
// relative paths typed on the original command line still resolve correctly
// after the child has detached and its cwd has become "/".
const ParentProcessDirEnv = "RELFS_PARENT_PROCESS_DIR"

// GetResolvedPath returns the absolute form of path. A non-absolute path is
// resolved against RELFS_PARENT_PROCESS_DIR when set (daemonized re-exec),
// falling back to the current process's working directory otherwise.
func GetResolvedPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}

	baseDir := os.Getenv(ParentProcessDirEnv)
	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(baseDir, path), nil
}
