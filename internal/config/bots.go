package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"

	DefaultPollInterval   = 6 * time.Second
	DefaultPriceEvery     = 2
	DefaultPresenceSuffix = "bogtools.io oracle"
)

// Bot is one configured identity in the fleet document. It is not mutated
// after LoadBots and ResolveSecrets return.
type Bot struct {
	Key            string
	Name           string
	Platform       string
	CredentialKey  string
	Token          string
	GuildID        string
	AvatarFile     string
	RPCURL         string
	OracleAddress  string
	OracleABI      string
	Version        int
	QuoteHint      string
	TokenAddress   string
	PollInterval   time.Duration
	PriceEvery     int
	PresenceSuffix string
	Methods        map[string]string
}

// SuccessInterval is how often a healthy bot records a fresh price.
func (b Bot) SuccessInterval() time.Duration {
	return b.PollInterval * time.Duration(b.PriceEvery)
}

type botEntry struct {
	TokenName      string            `yaml:"token_name"`
	Platform       string            `yaml:"platform"`
	TokenKey       string            `yaml:"discord_token_key"`
	GuildID        string            `yaml:"guild_id"`
	AvatarFile     string            `yaml:"avatar_file"`
	RPCURL         string            `yaml:"bsc_rpc_url"`
	OracleAddr     string            `yaml:"oracle_addr"`
	OracleABI      string            `yaml:"oracle_abi"`
	OracleVersion  int               `yaml:"oracle_version"`
	QuoteCurrency  string            `yaml:"quote_currency"`
	TokenAddr      string            `yaml:"token_addr"`
	PollInterval   time.Duration     `yaml:"poll_interval"`
	PriceEvery     int               `yaml:"price_every"`
	PresenceSuffix string            `yaml:"presence_suffix"`
	Methods        map[string]string `yaml:"methods"`
}

// LoadBots reads the fleet document at path. Entries are returned sorted by
// their top-level key.
func LoadBots(path string) ([]Bot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bots file: %w", err)
	}
	return ParseBots(raw)
}

func ParseBots(raw []byte) ([]Bot, error) {
	var doc map[string]botEntry
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse bots file: %w", err)
	}
	if len(doc) == 0 {
		return nil, errors.New("bots file defines no bots")
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bots := make([]Bot, 0, len(keys))
	var errs []error
	for _, k := range keys {
		b := doc[k].toBot(k)
		if err := b.validate(); err != nil {
			errs = append(errs, fmt.Errorf("bot %s: %w", k, err))
			continue
		}
		bots = append(bots, b)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return bots, nil
}

func (e botEntry) toBot(key string) Bot {
	b := Bot{
		Key:            key,
		Name:           strings.TrimSpace(e.TokenName),
		Platform:       strings.ToLower(strings.TrimSpace(e.Platform)),
		CredentialKey:  strings.TrimSpace(e.TokenKey),
		GuildID:        strings.TrimSpace(e.GuildID),
		AvatarFile:     strings.TrimSpace(e.AvatarFile),
		RPCURL:         strings.TrimSpace(e.RPCURL),
		OracleAddress:  strings.TrimSpace(e.OracleAddr),
		OracleABI:      strings.TrimSpace(e.OracleABI),
		Version:        e.OracleVersion,
		QuoteHint:      strings.TrimSpace(e.QuoteCurrency),
		TokenAddress:   strings.TrimSpace(e.TokenAddr),
		PollInterval:   e.PollInterval,
		PriceEvery:     e.PriceEvery,
		PresenceSuffix: e.PresenceSuffix,
		Methods:        e.Methods,
	}
	if b.Platform == "" {
		b.Platform = PlatformDiscord
	}
	if b.Version == 0 {
		b.Version = 3
	}
	if b.PollInterval <= 0 {
		b.PollInterval = DefaultPollInterval
	}
	if b.PriceEvery <= 0 {
		b.PriceEvery = DefaultPriceEvery
	}
	if b.PresenceSuffix == "" {
		b.PresenceSuffix = DefaultPresenceSuffix
	}
	return b
}

func (b Bot) validate() error {
	var errs []error
	if b.Name == "" {
		errs = append(errs, errors.New("token_name is required"))
	}
	if b.CredentialKey == "" {
		errs = append(errs, errors.New("discord_token_key is required"))
	}
	switch b.Platform {
	case PlatformDiscord, PlatformTelegram:
	default:
		errs = append(errs, fmt.Errorf("unknown platform %q", b.Platform))
	}
	if !strings.HasPrefix(b.RPCURL, "http") && !strings.HasPrefix(b.RPCURL, "ws") {
		errs = append(errs, fmt.Errorf("bsc_rpc_url must be http(s):// or ws(s)://, got %q", b.RPCURL))
	}

	switch b.Version {
	case 1, 2:
		if !common.IsHexAddress(b.OracleAddress) {
			errs = append(errs, fmt.Errorf("invalid oracle_addr %q", b.OracleAddress))
		}
	case 3:
		if !common.IsHexAddress(b.TokenAddress) {
			errs = append(errs, fmt.Errorf("invalid token_addr %q", b.TokenAddress))
		}
	default:
		errs = append(errs, fmt.Errorf("oracle_version must be 1, 2 or 3, got %d", b.Version))
	}
	return errors.Join(errs...)
}

// ValidateStaleness rejects a staleness threshold that a single slow cycle
// could cross: it must be at least twice every bot's success interval.
func ValidateStaleness(bots []Bot, threshold time.Duration) error {
	var errs []error
	for _, b := range bots {
		if floor := 2 * b.SuccessInterval(); threshold < floor {
			errs = append(errs, fmt.Errorf("bot %s: stale threshold %s is below %s (2x poll_interval x price_every)", b.Key, threshold, floor))
		}
	}
	return errors.Join(errs...)
}
