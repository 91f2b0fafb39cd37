package achievement

import (
	"context"
	"math"
	"sort"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// Fetcher retrieves the percentage solved per problem for a judge account.
// Failures to reach the judge are returned as shared.ErrNetwork so callers
// never mistake them for an account without progress.
type Fetcher interface {
	FetchProgress(ctx context.Context, username string) (map[string]int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARD CURVES
// ══════════════════════════════════════════════════════════════════════════════

// Curves convert a problem difficulty into the full EXP and coin reward of
// solving it completely. Both are increasing in difficulty.
type Curves struct {
	ExpPerPoint   float64
	CoinsPerPoint float64
}

// DefaultCurves returns the reward curves used in production.
func DefaultCurves() Curves {
	return Curves{
		ExpPerPoint:   100,
		CoinsPerPoint: 2,
	}
}

// Exp returns the total EXP reward of a problem.
func (c Curves) Exp(difficulty float64) int64 {
	return int64(math.Round(c.ExpPerPoint * difficulty))
}

// Coins returns the total coin reward of a problem.
func (c Curves) Coins(difficulty float64) int64 {
	return int64(math.Round(c.CoinsPerPoint * difficulty))
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Rewards is the outcome of one reconciliation.
type Rewards struct {
	Exp   int64
	Coins int64

	// Improved lists the problems whose progress went up, sorted.
	Improved []string
}

// Engine reconciles fetched progress with recorded progress.
type Engine struct {
	catalog *Catalog
	curves  Curves
}

// NewEngine creates an Engine.
func NewEngine(catalog *Catalog, curves Curves) *Engine {
	return &Engine{catalog: catalog, curves: curves}
}

// Catalog returns the problem catalog used by the engine.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Reconcile ratchets progress up to the fetched percentages and returns the
// rewards owed for the improvement. progress is updated in place and must be
// non-nil. Problems missing from fetched keep their recorded progress, and a
// fetched percentage at or below the recorded one changes nothing.
func (e *Engine) Reconcile(progress, fetched map[string]int) Rewards {
	problems := make([]string, 0, len(fetched))
	for problem := range fetched {
		problems = append(problems, problem)
	}
	sort.Strings(problems)

	var out Rewards
	for _, problem := range problems {
		newPct := clampPercentage(fetched[problem])
		oldPct := progress[problem]
		if newPct <= oldPct {
			continue
		}

		progress[problem] = newPct
		difficulty := e.catalog.Difficulty(problem)
		out.Exp += progression.IncrementalAchievementReward(e.curves.Exp(difficulty), oldPct, newPct)
		out.Coins += progression.IncrementalAchievementReward(e.curves.Coins(difficulty), oldPct, newPct)
		out.Improved = append(out.Improved, problem)
	}
	return out
}

func clampPercentage(p int) int {
	return max(0, min(100, p))
}

// ProgressEntry is one line of a user's progress listing.
type ProgressEntry struct {
	Problem    string
	Name       string
	Percentage int
}

// ProgressList returns the recorded progress on catalog problems in catalog
// order.
func (e *Engine) ProgressList(progress map[string]int) []ProgressEntry {
	var out []ProgressEntry
	for _, problem := range e.catalog.order {
		pct, ok := progress[problem]
		if !ok {
			continue
		}
		out = append(out, ProgressEntry{
			Problem:    problem,
			Name:       e.catalog.problems[problem].Name,
			Percentage: pct,
		})
	}
	return out
}
