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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relfs/relfs/cfg"
)

func TestLegacyLogConfigFromCarriesRotationKnobs(t *testing.T) {
	newConfig := &cfg.Config{}
	newConfig.Logging.LogRotate.MaxFileSizeMb = 64
	newConfig.Logging.LogRotate.BackupFileCount = 3
	newConfig.Logging.LogRotate.Compress = true

	legacy := legacyLogConfigFrom(newConfig)

	assert.Equal(t, 64, legacy.LogRotateConfig.MaxFileSizeMB)
	assert.Equal(t, 3, legacy.LogRotateConfig.BackupFileCount)
	assert.True(t, legacy.LogRotateConfig.Compress)
}

func TestFuseMountConfigSeverityGating(t *testing.T) {
	off := &cfg.Config{}
	off.Logging.Severity = "OFF"
	offCfg := fuseMountConfig("relfs", off)
	assert.Nil(t, offCfg.ErrorLogger)
	assert.Nil(t, offCfg.DebugLogger)

	info := &cfg.Config{}
	info.Logging.Severity = "INFO"
	infoCfg := fuseMountConfig("relfs", info)
	assert.NotNil(t, infoCfg.ErrorLogger)
	assert.Nil(t, infoCfg.DebugLogger)

	trace := &cfg.Config{}
	trace.Logging.Severity = "TRACE"
	traceCfg := fuseMountConfig("relfs", trace)
	assert.NotNil(t, traceCfg.ErrorLogger)
	assert.NotNil(t, traceCfg.DebugLogger)
}
