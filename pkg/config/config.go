package config

// Package config provides a reusable loader for alkanes node configuration
// files and environment variables.

import (
	"fmt"

	"github.com/spf13/viper"

	"alkanes/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for an alkanes indexing node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		Name          string `mapstructure:"name" json:"name"` // "regtest" or "mainnet"
		GenesisHeight uint64 `mapstructure:"genesis_height" json:"genesis_height"`
		DieselPremine uint64 `mapstructure:"diesel_premine" json:"diesel_premine"`
	} `mapstructure:"network" json:"network"`

	Fuel struct {
		BlockBudget     uint64 `mapstructure:"block_budget" json:"block_budget"`
		MaxPerFrame     uint64 `mapstructure:"max_per_frame" json:"max_per_frame"`
		BaseCallCost    uint64 `mapstructure:"base_call_cost" json:"base_call_cost"`
		BaseStorageCost uint64 `mapstructure:"base_storage_cost" json:"base_storage_cost"`
	} `mapstructure:"fuel" json:"fuel"`

	VM struct {
		MaxWasmSizeBytes   int `mapstructure:"max_wasm_size_bytes" json:"max_wasm_size_bytes"`
		MaxMemorySizeBytes int `mapstructure:"max_memory_size_bytes" json:"max_memory_size_bytes"`
		MaxCheckpointDepth int `mapstructure:"max_checkpoint_depth" json:"max_checkpoint_depth"`
		ModuleCacheSize    int `mapstructure:"module_cache_size" json:"module_cache_size"`
	} `mapstructure:"vm" json:"vm"`

	Storage struct {
		DBPath      string `mapstructure:"db_path" json:"db_path"`
		CacheMB     int    `mapstructure:"cache_mb" json:"cache_mb"`
		FileHandles int    `mapstructure:"file_handles" json:"file_handles"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // environment variables named after config keys override file values

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ALKANES_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ALKANES_ENV", ""))
}
