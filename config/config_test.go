// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigFailsValidationWithoutKeys(t *testing.T) {
	require.Error(t, Default.Validate())
}

func TestValidateRejectsInvertedTTLRange(t *testing.T) {
	cfg := Default
	cfg.ClientAPIKeys = []string{"ck1"}
	cfg.MinerAPIKeys = []string{"mk1"}
	cfg.TTLMinSeconds = 100
	cfg.TTLMaxSeconds = 10
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	cfg := Default
	cfg.ClientAPIKeys = []string{"ck1"}
	cfg.MinerAPIKeys = []string{"mk1"}
	require.NoError(t, cfg.Validate())
}

func TestLoadFileRoundTripsTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.toml")

	toml := `
BindHost = "127.0.0.1"
BindPort = 9090
ClientAPIKeys = ["ck1", "ck2"]
MinerAPIKeys = ["mk1"]
AdminAPIKeys = ["ak1"]
TTLMinSeconds = 30
TTLMaxSeconds = 300
`
	require.NoError(t, ioutil.WriteFile(path, []byte(toml), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.BindHost)
	require.Equal(t, 9090, cfg.BindPort)
	require.Equal(t, []string{"ck1", "ck2"}, cfg.ClientAPIKeys)
	require.Equal(t, 30, cfg.TTLMinSeconds)
	// Fields absent from the file keep Default's values.
	require.Equal(t, Default.PollCapSeconds, cfg.PollCapSeconds)
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitCSV(" a , b ,"))
	require.Nil(t, splitCSV(""))
}
