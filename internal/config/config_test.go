package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestEnvOr(t *testing.T) {
	// Unset key returns fallback
	os.Unsetenv("TEST_ENVOR_KEY")
	if got := envOr("TEST_ENVOR_KEY", "default"); got != "default" {
		t.Errorf("envOr unset key = %q, want %q", got, "default")
	}

	// Set key returns value
	t.Setenv("TEST_ENVOR_KEY", "custom")
	if got := envOr("TEST_ENVOR_KEY", "default"); got != "custom" {
		t.Errorf("envOr set key = %q, want %q", got, "custom")
	}

	// Empty string returns fallback
	t.Setenv("TEST_ENVOR_KEY", "")
	if got := envOr("TEST_ENVOR_KEY", "fallback"); got != "fallback" {
		t.Errorf("envOr empty key = %q, want %q", got, "fallback")
	}
}

func TestEnvDurationAndBool(t *testing.T) {
	t.Setenv("TEST_DUR", "15s")
	if got := envDuration("TEST_DUR", time.Second); got != 15*time.Second {
		t.Errorf("envDuration = %s, want 15s", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := envDuration("TEST_DUR", time.Second); got != time.Second {
		t.Errorf("envDuration invalid = %s, want fallback 1s", got)
	}
	t.Setenv("TEST_DUR", "-3s")
	if got := envDuration("TEST_DUR", time.Second); got != time.Second {
		t.Errorf("envDuration negative = %s, want fallback 1s", got)
	}

	t.Setenv("TEST_BOOL", "false")
	if envBool("TEST_BOOL", true) {
		t.Error("envBool(false) = true")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if !envBool("TEST_BOOL", true) {
		t.Error("envBool invalid should return fallback true")
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "BOTS_FILE", "GUILD_ID", "REDIS_URL", "WATCHDOG_INTERVAL", "STALE_THRESHOLD", "STALE_CLEAR", "WATCHDOG_STRICT", "BACKOFF", "CALL_TIMEOUT", "INFISICAL_CLIENT_ID", "INFISICAL_CLIENT_SECRET"} {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.BotsFile != "config.yml" {
		t.Errorf("BotsFile = %q, want %q", cfg.BotsFile, "config.yml")
	}
	if cfg.WatchdogInterval != 5*time.Second {
		t.Errorf("WatchdogInterval = %s, want 5s", cfg.WatchdogInterval)
	}
	if cfg.StaleThreshold != 24*time.Second {
		t.Errorf("StaleThreshold = %s, want 24s", cfg.StaleThreshold)
	}
	if !cfg.StaleClear || !cfg.WatchdogStrict {
		t.Errorf("StaleClear/WatchdogStrict = %v/%v, want true/true", cfg.StaleClear, cfg.WatchdogStrict)
	}
	if cfg.Backoff != 10*time.Second {
		t.Errorf("Backoff = %s, want 10s", cfg.Backoff)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GUILD_ID", "1234")
	t.Setenv("STALE_THRESHOLD", "15s")
	t.Setenv("STALE_CLEAR", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.GuildID != "1234" {
		t.Errorf("GuildID = %q, want %q", cfg.GuildID, "1234")
	}
	if cfg.StaleThreshold != 15*time.Second {
		t.Errorf("StaleThreshold = %s, want 15s", cfg.StaleThreshold)
	}
	if cfg.StaleClear {
		t.Error("StaleClear = true, want false")
	}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Errorf("SlogLevel = %s, want DEBUG", cfg.SlogLevel())
	}
}

const fleetYAML = `
bog:
  token_name: BOG
  discord_token_key: BOG_TOKEN
  avatar_file: avatars/bog.png
  bsc_rpc_url: https://bsc-dataseed.binance.org/
  token_addr: "0xD7B729ef857Aa773f47D37088A1181bB3fbF0099"
legacy:
  token_name: OLD
  discord_token_key: OLD_TOKEN
  bsc_rpc_url: https://bsc-dataseed.binance.org/
  oracle_addr: "0x0Bd91f45FcA6428680C02a79A2496D6f97BDF24a"
  oracle_version: 2
  quote_currency: BNB
  poll_interval: 3s
  price_every: 1
  platform: telegram
`

func TestParseBots(t *testing.T) {
	bots, err := ParseBots([]byte(fleetYAML))
	if err != nil {
		t.Fatalf("ParseBots: %v", err)
	}
	if len(bots) != 2 {
		t.Fatalf("len(bots) = %d, want 2", len(bots))
	}

	bog := bots[0]
	if bog.Key != "bog" || bog.Name != "BOG" {
		t.Errorf("bots[0] = %s/%s, want bog/BOG", bog.Key, bog.Name)
	}
	if bog.Version != 3 {
		t.Errorf("default Version = %d, want 3", bog.Version)
	}
	if bog.Platform != PlatformDiscord {
		t.Errorf("default Platform = %q, want %q", bog.Platform, PlatformDiscord)
	}
	if bog.PollInterval != DefaultPollInterval || bog.PriceEvery != DefaultPriceEvery {
		t.Errorf("defaults = %s/%d, want %s/%d", bog.PollInterval, bog.PriceEvery, DefaultPollInterval, DefaultPriceEvery)
	}
	if bog.PresenceSuffix != DefaultPresenceSuffix {
		t.Errorf("PresenceSuffix = %q", bog.PresenceSuffix)
	}

	legacy := bots[1]
	if legacy.Version != 2 || legacy.QuoteHint != "BNB" {
		t.Errorf("legacy = v%d hint %q, want v2 BNB", legacy.Version, legacy.QuoteHint)
	}
	if legacy.PollInterval != 3*time.Second || legacy.PriceEvery != 1 {
		t.Errorf("legacy cadence = %s/%d, want 3s/1", legacy.PollInterval, legacy.PriceEvery)
	}
	if legacy.Platform != PlatformTelegram {
		t.Errorf("legacy Platform = %q", legacy.Platform)
	}
}

func TestParseBotsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "defines no bots"},
		{"no name", "a:\n  discord_token_key: K\n  bsc_rpc_url: https://x\n  token_addr: \"0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c\"\n", "token_name is required"},
		{"bad version", "a:\n  token_name: A\n  discord_token_key: K\n  bsc_rpc_url: https://x\n  oracle_version: 7\n", "oracle_version must be 1, 2 or 3"},
		{"bad oracle", "a:\n  token_name: A\n  discord_token_key: K\n  bsc_rpc_url: https://x\n  oracle_version: 1\n  oracle_addr: nope\n", "invalid oracle_addr"},
		{"bad rpc", "a:\n  token_name: A\n  discord_token_key: K\n  bsc_rpc_url: ftp://x\n  token_addr: \"0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c\"\n", "bsc_rpc_url"},
		{"bad platform", "a:\n  token_name: A\n  discord_token_key: K\n  platform: irc\n  bsc_rpc_url: https://x\n  token_addr: \"0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c\"\n", "unknown platform"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBots([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestValidateStaleness(t *testing.T) {
	bots := []Bot{{Key: "a", PollInterval: 6 * time.Second, PriceEvery: 2}}

	if err := ValidateStaleness(bots, 24*time.Second); err != nil {
		t.Errorf("24s threshold: unexpected error %v", err)
	}
	if err := ValidateStaleness(bots, 15*time.Second); err == nil {
		t.Error("15s threshold with 12s success interval should be rejected")
	}
}

func TestResolveSecrets(t *testing.T) {
	os.Unsetenv("INFISICAL_CLIENT_ID")
	os.Unsetenv("INFISICAL_CLIENT_SECRET")
	t.Setenv("BOG_TOKEN", "secret-token")
	os.Unsetenv("MISSING_TOKEN")

	cfg := Config{GuildID: "42"}
	bots := []Bot{{Key: "bog", CredentialKey: "BOG_TOKEN", Platform: PlatformDiscord}}
	if err := cfg.ResolveSecrets(bots); err != nil {
		t.Fatalf("ResolveSecrets: %v", err)
	}
	if bots[0].Token != "secret-token" {
		t.Errorf("Token = %q, want %q", bots[0].Token, "secret-token")
	}
	if bots[0].GuildID != "42" {
		t.Errorf("GuildID = %q, want 42", bots[0].GuildID)
	}

	missing := []Bot{{Key: "x", CredentialKey: "MISSING_TOKEN", Platform: PlatformTelegram}}
	if err := cfg.ResolveSecrets(missing); err == nil {
		t.Error("expected error for missing credential")
	}
}
