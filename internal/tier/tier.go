// Package tier classifies tenant accounts into priority/rate classes based on
// which balance type funds their trading.
package tier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier is the priority/rate class of an account.
type Tier string

const (
	TierReal  Tier = "REAL"  // funded by settled/paid balance
	TierBonus Tier = "BONUS" // funded by promotional/administrative credit
	TierTest  Tier = "TEST"  // funded by simulated balance
)

// All lists tiers from highest to lowest priority.
var All = []Tier{TierReal, TierBonus, TierTest}

// Policy maps a tier to its scheduling parameters.
type Policy struct {
	Weight       int `yaml:"weight"`         // relative priority weight
	BudgetPerMin int `yaml:"budget_per_min"` // operations allowed per minute
}

// PolicyTable is the single source of tier parameters; never re-derive these
// inline at call sites.
type PolicyTable map[Tier]Policy

// DefaultPolicies returns the built-in tier configuration.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		TierReal:  {Weight: 800, BudgetPerMin: 30},
		TierBonus: {Weight: 400, BudgetPerMin: 20},
		TierTest:  {Weight: 100, BudgetPerMin: 10},
	}
}

// LoadPolicies reads a YAML policy file, falling back to defaults for any
// tier the file omits. An empty path returns the defaults.
func LoadPolicies(path string) (PolicyTable, error) {
	table := DefaultPolicies()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier policy file: %w", err)
	}

	var override map[Tier]Policy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse tier policy file: %w", err)
	}

	for t, p := range override {
		if t != TierReal && t != TierBonus && t != TierTest {
			return nil, fmt.Errorf("unknown tier %q in policy file", t)
		}
		if p.Weight <= 0 || p.BudgetPerMin <= 0 {
			return nil, fmt.Errorf("tier %s: weight and budget_per_min must be positive", t)
		}
		table[t] = p
	}
	return table, nil
}

// FromBalances derives the tier from an account's balance composition at a
// point in time.
func FromBalances(real, bonus float64) Tier {
	switch {
	case real > 0:
		return TierReal
	case bonus > 0:
		return TierBonus
	default:
		return TierTest
	}
}
