package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("feature value must be true, false or a percentage 0-100")
)

// Feature names.
const (
	FeatureGamble         = "economy.gamble"
	FeatureTransfers      = "economy.transfers"
	FeatureMessageRewards = "chat.message_rewards"
	FeatureJoinGreeting   = "chat.join_greeting"
	FeatureDMOJ           = "dmoj.achievements"
)

var featureDescriptions = map[string]string{
	FeatureGamble:         "Enable /gamble",
	FeatureTransfers:      "Enable /transactcoins",
	FeatureMessageRewards: "Reward chat messages with EXP",
	FeatureJoinGreeting:   "Greet members when they join",
	FeatureDMOJ:           "Enable the DMOJ account and CCC progress commands",
}

// Feature is one optional part of the bot. Rollout is the percentage of
// members that get it; 0 turns it off and 100 on for everyone.
type Feature struct {
	Name        string
	Description string
	Rollout     int
}

// FeatureContext is the member a feature is evaluated for.
type FeatureContext struct {
	UserID  int64
	IsAdmin bool
}

// FeatureFlags is immutable once loaded.
type FeatureFlags struct {
	rollout map[string]int
}

// LoadFeatureFlags starts with every feature on, then applies overrides and
// finally FEATURE_<NAME> environment variables. Values are true, false or a
// percentage. An override naming an unknown feature or holding an invalid
// value is an error; invalid environment values are ignored.
func LoadFeatureFlags(overrides map[string]string) (*FeatureFlags, error) {
	ff := &FeatureFlags{rollout: make(map[string]int, len(featureDescriptions))}
	for name := range featureDescriptions {
		ff.rollout[name] = 100
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := ff.rollout[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
		}
		p, ok := parseRollout(overrides[name])
		if !ok {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidRolloutPercent, name, overrides[name])
		}
		ff.rollout[name] = p
	}

	for name := range ff.rollout {
		if p, ok := parseRollout(os.Getenv(featureNameToEnvKey(name))); ok {
			ff.rollout[name] = p
		}
	}
	return ff, nil
}

func parseRollout(val string) (int, bool) {
	if val == "" {
		return 0, false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		if b {
			return 100, true
		}
		return 0, true
	}
	p, err := strconv.Atoi(val)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// featureNameToEnvKey maps "economy.gamble" to "FEATURE_ECONOMY_GAMBLE".
func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled reports whether name is on for the member in ctx. Admins get
// every known feature. A partial rollout needs a member to pick a bucket and
// is off without one.
func (ff *FeatureFlags) IsEnabled(name string, ctx *FeatureContext) bool {
	p, ok := ff.rollout[name]
	switch {
	case !ok:
		return false
	case ctx != nil && ctx.IsAdmin:
		return true
	case p >= 100:
		return true
	case p <= 0 || ctx == nil || ctx.UserID == 0:
		return false
	}
	return rolloutBucket(name, ctx.UserID) < p
}

// rolloutBucket places a member in [0, 100) per feature, so the same member
// stays in or out while the percentage is unchanged.
func rolloutBucket(name string, userID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32() % 100)
}

// Features lists every feature with its rollout, sorted by name.
func (ff *FeatureFlags) Features() []Feature {
	out := make([]Feature, 0, len(ff.rollout))
	for name, p := range ff.rollout {
		out = append(out, Feature{Name: name, Description: featureDescriptions[name], Rollout: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rollout returns the rollout percentage of name.
func (ff *FeatureFlags) Rollout(name string) (int, bool) {
	p, ok := ff.rollout[name]
	return p, ok
}
