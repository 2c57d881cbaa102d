package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	BotsFile       string
	GuildID        string
	RedisURL       string
	RedisPassword  string
	ExplorerURL    string
	ExplorerAPIKey string
	RouterAddress  string
	ReferenceAsset string
	LogLevel       string

	WatchdogInterval time.Duration
	StaleThreshold   time.Duration
	StaleClear       bool
	WatchdogStrict   bool
	Backoff          time.Duration
	CallTimeout      time.Duration
}

func Load() Config {
	loadDotenv()

	return Config{
		Port:           envOr("PORT", "8080"),
		BotsFile:       envOr("BOTS_FILE", "config.yml"),
		GuildID:        os.Getenv("GUILD_ID"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		ExplorerURL:    envOr("EXPLORER_API_URL", "https://api.bscscan.com/api"),
		ExplorerAPIKey: os.Getenv("EXPLORER_API_KEY"),
		RouterAddress:  envOr("ROUTER_ADDRESS", "0x0Bd91f45FcA6428680C02a79A2496D6f97BDF24a"),
		ReferenceAsset: envOr("REFERENCE_ASSET", "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"),
		LogLevel:       envOr("LOG_LEVEL", "info"),

		WatchdogInterval: envDuration("WATCHDOG_INTERVAL", 5*time.Second),
		StaleThreshold:   envDuration("STALE_THRESHOLD", 24*time.Second),
		StaleClear:       envBool("STALE_CLEAR", true),
		WatchdogStrict:   envBool("WATCHDOG_STRICT", true),
		Backoff:          envDuration("BACKOFF", 10*time.Second),
		CallTimeout:      envDuration("CALL_TIMEOUT", 10*time.Second),
	}
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ResolveSecrets fills each bot's chat token (and the shared guild id) from the
// environment, falling back to Infisical when credentials for it are present.
func (c *Config) ResolveSecrets(bots []Bot) error {
	lookup := envLookup
	if v := newVault(); v != nil {
		lookup = func(key string) string {
			if val := envLookup(key); val != "" {
				return val
			}
			return v.retrieve(key)
		}
	}

	if c.GuildID == "" {
		c.GuildID = lookup("GUILD_ID")
	}

	var errs []error
	for i := range bots {
		b := &bots[i]
		if b.Token == "" {
			b.Token = lookup(b.CredentialKey)
		}
		if b.Token == "" {
			errs = append(errs, fmt.Errorf("bot %s: credential %s is not set", b.Key, b.CredentialKey))
		}
		if b.GuildID == "" {
			b.GuildID = c.GuildID
		}
		if b.Platform == PlatformDiscord && b.GuildID == "" {
			errs = append(errs, fmt.Errorf("bot %s: GUILD_ID is required for discord", b.Key))
		}
	}
	return errors.Join(errs...)
}

type vault struct {
	client    infisical.InfisicalClientInterface
	projectID string
	envSlug   string
}

func newVault() *vault {
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil
	}

	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})
	if _, err := client.Auth().UniversalAuthLogin(clientID, clientSecret); err != nil {
		slog.Error("infisical auth failed", "error", err)
		return nil
	}

	return &vault{
		client:    client,
		projectID: projectID,
		envSlug:   envOr("INFISICAL_ENV", "prod"),
	}
}

func (v *vault) retrieve(key string) string {
	if key == "" {
		return ""
	}
	secret, err := v.client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
		SecretKey:   key,
		Environment: v.envSlug,
		ProjectID:   v.projectID,
		SecretPath:  "/",
	})
	if err != nil {
		slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
		return ""
	}
	slog.Info("loaded secret from infisical", "key", key)
	return secret.SecretValue
}

func loadDotenv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}
}

func envLookup(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(key))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
