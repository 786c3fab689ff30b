package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"spacegate/crypto"
)

const testKeystorePassphrase = "test-passphrase"

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8545", cfg.RPCAddress)
	require.Equal(t, filepath.Join(filepath.Dir(path), "genesis.json"), cfg.GenesisFile)
	require.FileExists(t, path)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadParsesNodeSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
GenesisFile = "genesis.json"
HeartbeatSeconds = 2
WSAllowedOrigins = ["app.example.com", "*.studio.example"]

[logging]
File = "/var/log/spacesd.log"
MaxSizeMB = 10

[telemetry]
Endpoint = "otel:4318"
SampleRatio = 0.25
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, uint64(2), cfg.HeartbeatSeconds)
	require.Equal(t, []string{"app.example.com", "*.studio.example"}, cfg.WSAllowedOrigins)
	require.Equal(t, "local", cfg.Environment)
	require.Equal(t, "/var/log/spacesd.log", cfg.Logging.File)
	require.Equal(t, 5, cfg.Logging.MaxBackups)
	require.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)
}

func TestLoadRejectsBadSampleRatio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `GenesisFile = "genesis.json"

[telemetry]
SampleRatio = 2.0
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "SampleRatio")
}

func TestLoadRejectsOriginURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `GenesisFile = "genesis.json"
WSAllowedOrigins = ["https://app.example.com"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "WSAllowedOrigins")
}

func TestLoadKeyholderBootstrapsKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyholder.toml")

	cfg, err := LoadKeyholder(path, testKeystorePassphrase)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "holder.keystore"), cfg.KeystorePath)
	require.Equal(t, filepath.Join(dir, "committee.yaml"), cfg.CommitteeFile)
	require.NoError(t, cfg.Validate())

	_, err = crypto.LoadFromKeystore(cfg.KeystorePath, testKeystorePassphrase)
	require.NoError(t, err)

	reloaded, err := LoadKeyholder(path, testKeystorePassphrase)
	require.NoError(t, err)
	require.Equal(t, cfg.KeystorePath, reloaded.KeystorePath)
	require.Equal(t, cfg.MaxStaleness(), reloaded.MaxStaleness())
}

func TestLoadKeyholderRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyholder.toml")
	keystore := filepath.Join(dir, "holder.keystore")
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, crypto.SaveToKeystoreWithStrength(keystore, key, testKeystorePassphrase, crypto.LightStrength))

	contents := "KeystorePath = \"" + keystore + "\"\nShareSecret = \"oops\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err = LoadKeyholder(path, testKeystorePassphrase)
	require.ErrorContains(t, err, "ShareSecret")
}

func TestKeyholderValidate(t *testing.T) {
	cfg := defaultKeyholderConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxStalenessSeconds = 0
	require.ErrorContains(t, cfg.Validate(), "MaxStalenessSeconds")

	cfg = defaultKeyholderConfig()
	cfg.HolderIndex = 0
	require.ErrorContains(t, cfg.Validate(), "HolderIndex")

	cfg = defaultKeyholderConfig()
	cfg.Burst = 0
	require.ErrorContains(t, cfg.Validate(), "rate limit")
}

func holderAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address().String()
}

func TestParseCommittee(t *testing.T) {
	doc := `threshold: 2
holders:
  - index: 1
    name: north
    url: https://kh1.example
    address: ` + holderAddress(t) + `
  - index: 2
    name: south
    url: https://kh2.example
    address: ` + holderAddress(t) + `
  - index: 3
    name: east
    url: https://kh3.example
    address: ` + holderAddress(t) + `
`
	committee, err := ParseCommittee([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, 2, committee.Threshold)
	require.Len(t, committee.Holders, 3)

	h, ok := committee.Holder(2)
	require.True(t, ok)
	require.Equal(t, "south", h.Name)
	_, ok = committee.Holder(9)
	require.False(t, ok)
}

func TestCommitteeValidate(t *testing.T) {
	addr := holderAddress(t)
	cases := []struct {
		name      string
		committee Committee
		want      string
	}{
		{"empty", Committee{Threshold: 1}, "no holders"},
		{"threshold too high", Committee{Threshold: 2, Holders: []Holder{{Index: 1, URL: "u", Address: addr}}}, "threshold"},
		{"duplicate index", Committee{Threshold: 1, Holders: []Holder{{Index: 1, URL: "u", Address: addr}, {Index: 1, URL: "v", Address: addr}}}, "duplicate"},
		{"missing url", Committee{Threshold: 1, Holders: []Holder{{Index: 1, Address: addr}}}, "no url"},
		{"bad address", Committee{Threshold: 1, Holders: []Holder{{Index: 1, URL: "u", Address: "nope"}}}, "address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorContains(t, tc.committee.Validate(), tc.want)
		})
	}
}
