// Package config provides INI-based configuration loading for the bridge.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"jabagram/internal/messages"
)

// defaultActorsPoolSize bounds the pool of per-user XMPP sessions.
const defaultActorsPoolSize = 16

// Config is the top-level bridge configuration, loaded from config.ini.
type Config struct {
	Telegram TelegramConfig
	XMPP     XMPPConfig
	General  GeneralConfig
	Messages messages.Messages
}

// TelegramConfig holds the Bot API credentials.
type TelegramConfig struct {
	Token string
}

// XMPPConfig holds the bridge account credentials and the actor pool bound.
type XMPPConfig struct {
	Login               string
	Password            string
	ActorsPoolSizeLimit int
}

// GeneralConfig holds bridge-wide settings.
type GeneralConfig struct {
	// Key is the shared secret supplied as the XMPP invitation reason to
	// confirm a pending pairing.
	Key string
	// StatusListen, when set, enables the read-only status endpoint on
	// that address (e.g. "127.0.0.1:8641").
	StatusListen string
}

// Load reads an INI config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return fromFile(f)
}

// Parse loads a Config from INI bytes.
func Parse(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return fromFile(f)
}

func fromFile(f *ini.File) (*Config, error) {
	cfg := &Config{
		Telegram: TelegramConfig{
			Token: f.Section("telegram").Key("token").String(),
		},
		XMPP: XMPPConfig{
			Login:    f.Section("xmpp").Key("login").String(),
			Password: f.Section("xmpp").Key("password").String(),
			ActorsPoolSizeLimit: f.Section("xmpp").
				Key("actors_pool_size_limit").MustInt(defaultActorsPoolSize),
		},
		General: GeneralConfig{
			Key:          f.Section("general").Key("key").String(),
			StatusListen: f.Section("general").Key("status_listen").String(),
		},
		Messages: loadMessages(f),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadMessages starts from the built-in texts and applies any overrides
// present in the [messages] section.
func loadMessages(f *ini.File) messages.Messages {
	m := messages.Default()
	sec := f.Section("messages")
	override := func(key string, dst *string) {
		if sec.HasKey(key) {
			if v := sec.Key(key).String(); v != "" {
				*dst = v
			}
		}
	}
	override("queueing", &m.Queueing)
	override("missing_muc_jid", &m.MissingMUCJID)
	override("invalid_jid", &m.InvalidJID)
	override("unbridge_telegram", &m.UnbridgeTelegram)
	override("unbridge_xmpp", &m.UnbridgeXMPP)
	return m
}

// validate checks that all mandatory options are present. Missing or
// invalid configuration is fatal at startup only.
func (c *Config) validate() error {
	var errs []string
	if c.Telegram.Token == "" {
		errs = append(errs, "[telegram] token is required")
	}
	if c.XMPP.Login == "" {
		errs = append(errs, "[xmpp] login is required")
	}
	if c.XMPP.Password == "" {
		errs = append(errs, "[xmpp] password is required")
	}
	if c.General.Key == "" {
		errs = append(errs, "[general] key is required")
	}
	if c.XMPP.ActorsPoolSizeLimit < 1 {
		errs = append(errs, "[xmpp] actors_pool_size_limit must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
