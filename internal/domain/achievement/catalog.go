// Package achievement reconciles externally verified problem progress with the
// progress recorded on a user, and prices the difference in EXP and coins.
package achievement

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

//go:embed assets/ccc.json
var cccAsset []byte

// Problem is the metadata of one catalog entry.
type Problem struct {
	Name       string  `json:"name"`
	Difficulty float64 `json:"difficulty"`
}

// Catalog is the static table of known problems, keyed by problem path.
type Catalog struct {
	problems map[string]Problem
	order    []string
}

// LoadCatalog parses a catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	problems := map[string]Problem{}
	if err := json.Unmarshal(data, &problems); err != nil {
		return nil, fmt.Errorf("achievement: parse catalog: %w", err)
	}

	order := make([]string, 0, len(problems))
	for key, p := range problems {
		if p.Difficulty < 0 || math.IsNaN(p.Difficulty) {
			return nil, fmt.Errorf("achievement: problem %s has invalid difficulty %v", key, p.Difficulty)
		}
		order = append(order, key)
	}
	sort.Strings(order)

	return &Catalog{problems: problems, order: order}, nil
}

// DefaultCatalog returns the CCC catalog bundled with the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(cccAsset)
}

// Lookup returns the metadata of a problem.
func (c *Catalog) Lookup(problem string) (Problem, bool) {
	p, ok := c.problems[problem]
	return p, ok
}

// Difficulty returns the difficulty of a problem, or 0 for unknown problems.
func (c *Catalog) Difficulty(problem string) float64 {
	return c.problems[problem].Difficulty
}

// Problems returns every problem path in catalog order.
func (c *Catalog) Problems() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of problems in the catalog.
func (c *Catalog) Len() int {
	return len(c.order)
}
