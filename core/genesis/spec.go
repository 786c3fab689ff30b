package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spacegate/core/types"
)

// GenesisSpec is the JSON document describing block zero.
type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	ChainID     uint64            `json:"chainId"`
	Treasury    string            `json:"treasury"`
	InitFee     *uint64           `json:"initFee,omitempty"`
	Alloc       map[string]string `json:"alloc"` // addr -> amount

	genesisTimestamp time.Time
	treasury         types.Principal
	alloc            map[types.Principal]uint64
}

// LoadGenesisSpec reads and validates a genesis document. Unknown fields are
// rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// GenesisTimestamp returns the parsed genesis time.
func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// TreasuryAddress returns the parsed treasury principal.
func (s *GenesisSpec) TreasuryAddress() types.Principal { return s.treasury }

// Allocations returns the parsed starting balances.
func (s *GenesisSpec) Allocations() map[types.Principal]uint64 { return s.alloc }

// Validate parses every field and caches the typed values.
func (s *GenesisSpec) Validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if s.ChainID == 0 {
		return fmt.Errorf("chainId must be non-zero")
	}
	if strings.TrimSpace(s.Treasury) == "" {
		return fmt.Errorf("treasury must be provided")
	}
	treasury, err := types.ParsePrincipal(s.Treasury)
	if err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	s.treasury = treasury

	s.alloc = make(map[types.Principal]uint64, len(s.Alloc))
	for addrStr, amountStr := range s.Alloc {
		addr, err := types.ParsePrincipal(addrStr)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		if _, dup := s.alloc[addr]; dup {
			return fmt.Errorf("alloc[%q]: duplicate account", addrStr)
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(amountStr), 10, 64)
		if err != nil {
			return fmt.Errorf("alloc[%q]: invalid amount %q", addrStr, amountStr)
		}
		s.alloc[addr] = amount
	}
	return nil
}

func parseGenesisTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("genesisTime: %w", err)
	}
	return ts.UTC(), nil
}
