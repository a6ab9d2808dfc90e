package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ektasahyog/sahyog-relay/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultHistoryLimit   = 50
	defaultBridgeLanguage = "en"
	defaultAiTimeout      = 5 * time.Second
)

// Config is the global configuration object which is filled via the
// configuration file, environment (SAHYOG_ prefix) and command-line flags.
type Config struct {
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	AiConfig          AiConfig          `mapstructure:"ai"`
	LogLevel          string            `mapstructure:"log_level"`
}

// HistoryConfig bounds the history read path.
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

// BuntDBConfig configures the BuntDB file storage backed database.
type BuntDBConfig struct {
	Name string `mapstructure:"name"`
}

// PersistenceConfig selects the persistence backend. Type is "buntdb",
// "sqlite" or "postgres"; DSN applies to the gorm backends.
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`

	BuntDBConfig BuntDBConfig `mapstructure:"buntdb"`
}

// AiConfig configures the external enrichment services. ModerationUrl points
// at the toxicity classification endpoint, ProjectId is the Google Cloud
// project used for translation and sentiment. TimeoutSeconds bounds every
// upstream call.
type AiConfig struct {
	ModerationUrl  string `mapstructure:"moderation_url"`
	ModerationKey  string `mapstructure:"moderation_key"`
	ProjectId      string `mapstructure:"project_id"`
	BridgeLanguage string `mapstructure:"bridge_language"`
	CacheSize      int    `mapstructure:"cache_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (c AiConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultAiTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Config) HistoryLimit() int {
	if c.HistoryConfig.Limit <= 0 {
		return defaultHistoryLimit
	}
	return c.HistoryConfig.Limit
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (trace/debug/info/warn/error)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated. It returns a
// Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("ai.bridge_language", defaultBridgeLanguage)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("SAHYOG")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}

	globals.AppLogger.Debug("config", "cfg", cfg, "all", viper.AllSettings())
	return &cfg, nil
}
