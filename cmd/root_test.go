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
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdRejectsWrongArgCount(t *testing.T) {
	for _, args := range [][]string{{}, {"a", "b"}} {
		rootCmd.SetArgs(args)
		err := rootCmd.Execute()
		assert.Error(t, err)
	}
}

func TestRootCmdRequiresDb(t *testing.T) {
	MountConfig.Db = ""
	rootCmd.SetArgs([]string{filepath.Join(t.TempDir(), "mnt")})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "--db")
}

func TestDumpConfigPrintsYamlInsteadOfMounting(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relfs.db")
	dumpConfig = true
	defer func() { dumpConfig = false }()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--dump-config", "--db", dbPath, filepath.Join(t.TempDir(), "mnt")})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "db:")
}
