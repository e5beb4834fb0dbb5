package main

import (
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/studydeck/accounts"
)

const envPrefix = "ACCOUNTS_"

// fileConfig is the on-disk shape of accountsctl's settings. Environment
// variables override it: ACCOUNTS_REDIS__ADDR sets redis.addr.
type fileConfig struct {
	Backend string `koanf:"backend"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Postgres struct {
		DSN string `koanf:"dsn"`
	} `koanf:"postgres"`

	Store struct {
		KeyPrefix         string        `koanf:"keyPrefix"`
		UnitOfWorkTimeout time.Duration `koanf:"unitOfWorkTimeout"`
	} `koanf:"store"`

	Password struct {
		CurrentVersion string        `koanf:"currentVersion"`
		MinPasswordAge time.Duration `koanf:"minPasswordAge"`
		MaxPasswordAge time.Duration `koanf:"maxPasswordAge"`
	} `koanf:"password"`

	PersistentToken struct {
		MaxTokenAge time.Duration `koanf:"maxTokenAge"`
	} `koanf:"persistentToken"`

	SignIn struct {
		MaxPasswordAttempts int           `koanf:"maxPasswordAttempts"`
		AttemptWindow       time.Duration `koanf:"attemptWindow"`
	} `koanf:"signIn"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

// loadConfig reads path (if not empty) and then the ACCOUNTS_ environment.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{Backend: "redis"}
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "config file %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	existing := k.Raw()
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(key, existing), value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables")
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend != "redis" && cfg.Backend != "postgres" {
		return nil, errors.Errorf("unknown backend %q", cfg.Backend)
	}
	return cfg, nil
}

// envKey turns ACCOUNTS_SIGN_IN__MAX_PASSWORD_ATTEMPTS into a koanf path,
// reusing the spelling of keys already loaded from the file so both sources
// land on the same entry.
func envKey(name string, existing map[string]any) string {
	name = strings.TrimPrefix(name, envPrefix)
	parts := strings.Split(name, "__")
	level := existing
	for i, part := range parts {
		want := strings.ReplaceAll(strings.ToLower(part), "_", "")
		parts[i] = want
		for key, value := range level {
			if strings.EqualFold(key, want) {
				parts[i] = key
				next, _ := value.(map[string]any)
				level = next
				break
			}
		}
	}
	return strings.Join(parts, ".")
}

// engineConfig overlays the set fields on accounts.DefaultConfig.
func (c *fileConfig) engineConfig() accounts.Config {
	out := accounts.DefaultConfig()
	if c.Store.KeyPrefix != "" {
		out.Store.KeyPrefix = c.Store.KeyPrefix
	}
	if c.Store.UnitOfWorkTimeout > 0 {
		out.Store.UnitOfWorkTimeout = c.Store.UnitOfWorkTimeout
	}
	if c.Password.CurrentVersion != "" {
		out.Password.CurrentVersion = c.Password.CurrentVersion
	}
	out.Password.MinPasswordAge = c.Password.MinPasswordAge
	out.Password.MaxPasswordAge = c.Password.MaxPasswordAge
	if c.PersistentToken.MaxTokenAge > 0 {
		out.PersistentToken.MaxTokenAge = c.PersistentToken.MaxTokenAge
	}
	if c.SignIn.MaxPasswordAttempts > 0 {
		out.SignIn.MaxPasswordAttempts = c.SignIn.MaxPasswordAttempts
	}
	if c.SignIn.AttemptWindow > 0 {
		out.SignIn.AttemptWindow = c.SignIn.AttemptWindow
	}
	return out
}
