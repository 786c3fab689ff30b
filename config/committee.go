package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"spacegate/crypto"
)

// Holder describes one member of the key-holder committee.
type Holder struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	// Address is the holder's signing principal; answers are verified
	// against it.
	Address string `yaml:"address"`
}

// Committee is the set of key-holders and the number of shares needed to
// reconstruct a content key.
type Committee struct {
	Threshold int      `yaml:"threshold"`
	Holders   []Holder `yaml:"holders"`
}

// LoadCommittee reads and validates a committee file.
func LoadCommittee(path string) (*Committee, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read committee %q: %w", path, err)
	}
	return ParseCommittee(raw)
}

// ParseCommittee decodes a YAML committee document.
func ParseCommittee(raw []byte) (*Committee, error) {
	var committee Committee
	if err := yaml.Unmarshal(raw, &committee); err != nil {
		return nil, fmt.Errorf("decode committee: %w", err)
	}
	if err := committee.Validate(); err != nil {
		return nil, err
	}
	return &committee, nil
}

// Validate checks the threshold against the holder set.
func (c *Committee) Validate() error {
	if len(c.Holders) == 0 {
		return fmt.Errorf("committee: no holders")
	}
	if c.Threshold <= 0 || c.Threshold > len(c.Holders) {
		return fmt.Errorf("committee: threshold %d outside 1..%d", c.Threshold, len(c.Holders))
	}
	seen := make(map[int]struct{}, len(c.Holders))
	for _, h := range c.Holders {
		if h.Index <= 0 {
			return fmt.Errorf("committee: holder %q has non-positive index", h.Name)
		}
		if _, dup := seen[h.Index]; dup {
			return fmt.Errorf("committee: duplicate holder index %d", h.Index)
		}
		seen[h.Index] = struct{}{}
		if strings.TrimSpace(h.URL) == "" {
			return fmt.Errorf("committee: holder %d has no url", h.Index)
		}
		if _, err := crypto.DecodeAddress(h.Address); err != nil {
			return fmt.Errorf("committee: holder %d address: %w", h.Index, err)
		}
	}
	return nil
}

// Holder returns the member with the given index.
func (c *Committee) Holder(index int) (Holder, bool) {
	for _, h := range c.Holders {
		if h.Index == index {
			return h, true
		}
	}
	return Holder{}, false
}
