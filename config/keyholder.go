package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"spacegate/crypto"
)

// KeyholderConfig configures one threshold key-holder daemon.
type KeyholderConfig struct {
	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	// NodeRPC is the JSON-RPC endpoint of the node the holder reads state from.
	NodeRPC       string `toml:"NodeRPC"`
	HolderIndex   int    `toml:"HolderIndex"`
	CommitteeFile string `toml:"CommitteeFile"`
	KeystorePath  string `toml:"KeystorePath"`
	PassphraseEnv string `toml:"PassphraseEnv"`
	// AuditDB holds the decision log and the shares deposited with this
	// holder.
	AuditDB             string  `toml:"AuditDB"`
	MaxStalenessSeconds uint64  `toml:"MaxStalenessSeconds"`
	SessionTTLSeconds   uint64  `toml:"SessionTTLSeconds"`
	RequestsPerSecond   float64 `toml:"RequestsPerSecond"`
	Burst               int     `toml:"Burst"`
	Environment         string  `toml:"Environment"`

	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// MaxStaleness is the oldest head a holder will evaluate against.
func (c *KeyholderConfig) MaxStaleness() time.Duration {
	return time.Duration(c.MaxStalenessSeconds) * time.Second
}

// SessionTTL bounds the lifetime of accepted session credentials.
func (c *KeyholderConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func defaultKeyholderConfig() *KeyholderConfig {
	return &KeyholderConfig{
		ListenAddress:       "127.0.0.1:7443",
		MetricsAddress:      "127.0.0.1:9101",
		NodeRPC:             "http://127.0.0.1:8545",
		HolderIndex:         1,
		PassphraseEnv:       "SPACEGATE_KEYHOLDER_PASSPHRASE",
		MaxStalenessSeconds: 30,
		SessionTTLSeconds:   300,
		RequestsPerSecond:   20,
		Burst:               40,
		Environment:         "local",
		Logging: LoggingConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Telemetry: TelemetryConfig{SampleRatio: 1},
	}
}

// LoadKeyholder loads a key-holder configuration. A missing file is created
// with defaults, and a missing holder keystore is generated with passphrase
// so the holder can sign its answers from first start.
func LoadKeyholder(path, passphrase string) (*KeyholderConfig, error) {
	cfg := defaultKeyholderConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		dir := filepath.Dir(path)
		cfg.CommitteeFile = filepath.Join(dir, "committee.yaml")
		cfg.AuditDB = filepath.Join(dir, "audit.db")
		cfg.KeystorePath = defaultKeystorePath(path)
		if err := ensureKeystore(cfg.KeystorePath, passphrase); err != nil {
			return nil, err
		}
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	} else if err != nil {
		return nil, err
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		cfg.KeystorePath = defaultKeystorePath(path)
		if err := ensureKeystore(cfg.KeystorePath, passphrase); err != nil {
			return nil, err
		}
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureKeystore(keystorePath, passphrase string) error {
	if _, err := os.Stat(keystorePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return crypto.SaveToKeystore(keystorePath, key, passphrase)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "holder.keystore")
}
