package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_ADMIN_IDS", "1, 2,bad,3")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ECONOMY_GAMBLE_COST", "60")
	t.Setenv("SCHEDULER_SYNC_INTERVAL", "90s")
	t.Setenv("HTTP_API_KEYS", " k1 ,,k2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.Telegram.Token)
	assert.Equal(t, []int64{1, 2, 3}, cfg.Telegram.AdminIDs)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, int64(60), cfg.Economy.GambleCost)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.SyncInterval)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.APIKeys)
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, 60*time.Second, cfg.App.OperationTimeout)
	assert.Equal(t, time.UTC, cfg.App.Location)
	require.NotNil(t, cfg.Features)
	assert.True(t, cfg.Features.IsEnabled(FeatureGamble, nil))
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  token: from-file
  admin_ids: [10, 20]
store:
  backend: git
  dir: /srv/records
  remote_url: https://example.com/records.git
economy:
  max_booster_duration: 72h
features:
  economy.gamble: "false"
  chat.join_greeting: "25"
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STORE_BRANCH", "main")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Telegram.Token)
	assert.Equal(t, []int64{10, 20}, cfg.Telegram.AdminIDs)
	assert.Equal(t, "/srv/records", cfg.Store.Dir)
	assert.Equal(t, "https://example.com/records.git", cfg.Store.RemoteURL)
	assert.Equal(t, "main", cfg.Store.Branch)
	assert.Equal(t, "origin", cfg.Store.RemoteName)
	assert.Equal(t, 72*time.Hour, cfg.Economy.MaxBoosterDuration)

	assert.False(t, cfg.Features.IsEnabled(FeatureGamble, &FeatureContext{UserID: 5}))
	p, ok := cfg.Features.Rollout(FeatureJoinGreeting)
	assert.True(t, ok)
	assert.Equal(t, 25, p)
}

func TestLoadWorker_TokenOptional(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("STORE_BACKEND", "memory")

	_, err := Load()
	assert.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")

	cfg, err := LoadWorker()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cfg.Scheduler.SyncInterval)
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_UnknownFeature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("features:\n  economy.lottery: \"true\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")

	_, err := Load()
	assert.ErrorIs(t, err, ErrFeatureNotFound)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "s3"
	cfg.Economy.GambleCost = 0
	cfg.App.LogLevel = "loud"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "TELEGRAM_BOT_TOKEN is required")
	assert.Contains(t, msg, "STORE_BACKEND must be git, postgres or memory")
	assert.Contains(t, msg, "ECONOMY_GAMBLE_COST must be positive")
	assert.Contains(t, msg, "LOG_LEVEL")
	assert.Contains(t, msg, "HTTP_PORT")
}

func TestValidate_Backends(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "token"
	require.NoError(t, cfg.Validate())

	cfg.Store.Backend = BackendPostgres
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL is required")
	cfg.Database.URL = "postgres://localhost/sonny"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Backend = BackendMemory
	cfg.App.Environment = EnvProduction
	assert.ErrorContains(t, cfg.Validate(), "memory backend")
}

func TestValidate_RedisLockOutlivesOperations(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "token"
	cfg.Redis.Enabled = true
	cfg.Redis.LockTTL = time.Second

	assert.ErrorContains(t, cfg.Validate(), "REDIS_LOCK_TTL")
}

func TestFeatureFlags_EnvOverride(t *testing.T) {
	t.Setenv("FEATURE_DMOJ_ACHIEVEMENTS", "false")

	ff, err := LoadFeatureFlags(nil)
	require.NoError(t, err)
	assert.False(t, ff.IsEnabled(FeatureDMOJ, nil))
	assert.True(t, ff.IsEnabled(FeatureDMOJ, &FeatureContext{UserID: 1, IsAdmin: true}))
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff, err := LoadFeatureFlags(map[string]string{FeatureMessageRewards: "50"})
	require.NoError(t, err)

	in := 0
	for id := int64(1); id <= 1000; id++ {
		ctx := &FeatureContext{UserID: id}
		first := ff.IsEnabled(FeatureMessageRewards, ctx)
		assert.Equal(t, first, ff.IsEnabled(FeatureMessageRewards, ctx))
		if first {
			in++
		}
	}
	assert.InDelta(t, 500, in, 100)
}

func TestFeatureFlags_AdminsAndPartialRollout(t *testing.T) {
	ff, err := LoadFeatureFlags(map[string]string{FeatureGamble: "false", FeatureTransfers: "10"})
	require.NoError(t, err)

	assert.False(t, ff.IsEnabled(FeatureGamble, &FeatureContext{UserID: 7}))
	assert.True(t, ff.IsEnabled(FeatureGamble, &FeatureContext{UserID: 7, IsAdmin: true}))
	assert.False(t, ff.IsEnabled(FeatureTransfers, nil))
	assert.False(t, ff.IsEnabled("economy.lottery", &FeatureContext{IsAdmin: true}))
	assert.True(t, ff.IsEnabled(FeatureDMOJ, nil))
}

func TestFeatureFlags_InvalidOverride(t *testing.T) {
	_, err := LoadFeatureFlags(map[string]string{FeatureGamble: "150"})
	assert.ErrorIs(t, err, ErrInvalidRolloutPercent)
}

func TestFeatureFlags_EnvironmentWins(t *testing.T) {
	t.Setenv("FEATURE_ECONOMY_GAMBLE", "true")
	ff, err := LoadFeatureFlags(map[string]string{FeatureGamble: "false"})
	require.NoError(t, err)

	assert.True(t, ff.IsEnabled(FeatureGamble, nil))
}

func TestFeatureFlags_InvalidEnvironmentIgnored(t *testing.T) {
	t.Setenv("FEATURE_DMOJ_ACHIEVEMENTS", "sometimes")
	ff, err := LoadFeatureFlags(nil)
	require.NoError(t, err)

	p, ok := ff.Rollout(FeatureDMOJ)
	require.True(t, ok)
	assert.Equal(t, 100, p)
}

func TestFeatureFlags_ListSortedByName(t *testing.T) {
	t.Setenv("FEATURE_CHAT_JOIN_GREETING", "40")
	ff, err := LoadFeatureFlags(nil)
	require.NoError(t, err)

	var names []string
	rollout := map[string]int{}
	for _, f := range ff.Features() {
		names = append(names, f.Name)
		rollout[f.Name] = f.Rollout
		assert.NotEmpty(t, f.Description)
	}
	assert.Equal(t, []string{
		FeatureJoinGreeting,
		FeatureMessageRewards,
		FeatureDMOJ,
		FeatureGamble,
		FeatureTransfers,
	}, names)
	assert.Equal(t, 40, rollout[FeatureJoinGreeting])
	assert.Equal(t, 100, rollout[FeatureDMOJ])
}

func TestFeatureNameToEnvKey(t *testing.T) {
	assert.Equal(t, "FEATURE_CHAT_JOIN_GREETING", featureNameToEnvKey(FeatureJoinGreeting))
}
