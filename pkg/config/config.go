// Govcache uses flags and a single config file for configuration.
// The config file is TOML; its leaf keys are flag names, grouped into tables by the component they configure.
// Values from the file are applied on top of the parsed command line.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var configFilePath = flag.String("config_file", "config.toml", "Path to the configuration file.")

// skippedConfigFlags is the list of command line flags that have no config file entry.
var skippedConfigFlags = []string{"print_version", "config_file"}

// Config is the schema of the config file. Every leaf's toml key is the name of the flag it sets; unset leaves keep
// the flag's value.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Store      StoreConfig      `toml:"store"`
	ReadCache  ReadCacheConfig  `toml:"read_cache"`
	Governance GovernanceConfig `toml:"governance"`
}

type LogConfig struct {
	HandlerType *string `toml:"log_handler_type"`
	Level       *string `toml:"log_level"`
}

type StoreConfig struct {
	DataDir                *string  `toml:"data_dir"`
	Backend                *string  `toml:"store_backend"`
	BloomExpectedKeys      *uint    `toml:"store_bloom_expected_keys"`
	BloomFalsePositiveRate *float64 `toml:"store_bloom_false_positive_rate"`
}

type ReadCacheConfig struct {
	Enabled      *bool          `toml:"enable_read_cache"`
	Capacity     *int           `toml:"read_cache_capacity"`
	ShardCount   *int           `toml:"read_cache_shard_count"`
	TTL          *time.Duration `toml:"read_cache_ttl"`
	TickInterval *time.Duration `toml:"read_cache_tick_interval"`
}

type GovernanceConfig struct {
	StableCoinGenesisHeight *uint `toml:"stable_coin_genesis_height"`
}

// Load parses the config file at `path`. Keys that aren't part of the schema are an error.
func Load(path string) (*Config, error) {
	conf := new(Config)
	meta, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}
	return conf, nil
}

// leafFields calls `fn` with the toml key and value of every leaf of the schema, walking nested tables.
func leafFields(v reflect.Value, fn func(key string, value reflect.Value) error) error {
	for i := range v.NumField() {
		field, value := v.Type().Field(i), v.Field(i)
		key := field.Tag.Get("toml")
		if value.Kind() == reflect.Struct {
			if err := leafFields(value, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Apply sets the flag of every leaf present in the config.
func (c *Config) Apply() error {
	return leafFields(reflect.ValueOf(c).Elem(), func(flagName string, value reflect.Value) error {
		if value.IsNil() {
			return nil
		}
		// Durations format as e.g. `1m30s`, which flag.Set parses back.
		stringValue := fmt.Sprint(value.Elem().Interface())
		if err := flag.Set(flagName, stringValue); err != nil {
			return fmt.Errorf("failed to set flag %s: %w", flagName, err)
		}
		return nil
	})
}

// InitFlags parses the command line, then applies the config file specified by the -config_file flag.
// It should be called after defining all flags and before using them.
func InitFlags() {
	flag.Parse()

	if *configFilePath == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return
	}
	conf, err := Load(*configFilePath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", *configFilePath, "error", err)
		return
	}
	if err != nil { // If the config file can't be loaded, we skip it and use flag values.
		slog.Error("Failed to load config file.", "error", err)
		return
	}
	if err := conf.Apply(); err != nil {
		slog.Error("Failed to set flags from config file.", "error", err)
		return
	}
}

// CollectUnregisteredFlags collects all flags that haven't been registered in the config schema.
// An error exists in the results corresponding to each unregistered flag.
func CollectUnregisteredFlags() []error {
	definedFlags := make(map[string]struct{})
	_ = leafFields(reflect.ValueOf(Config{}), func(key string, _ reflect.Value) error {
		definedFlags[key] = struct{}{}
		return nil
	})
	errs := make([]error, 0)
	flag.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") { // Skip test flags.
			return
		}
		if slices.Contains(skippedConfigFlags, f.Name) {
			return
		}
		if _, flagHasConfigEntry := definedFlags[f.Name]; !flagHasConfigEntry {
			errs = append(errs, fmt.Errorf("flag '%s' has not been defined in the config schema", f.Name))
		}
	})
	return errs
}
