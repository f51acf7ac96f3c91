// Package config loads and validates the answerer's static configuration:
// a small set of process-wide settings from the environment, and the bulk
// of the per-chain configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FactoryConfig identifies the on-chain factory contract a chain's Past
// Scanner and Live Scanner index from.
type FactoryConfig struct {
	Address         string `yaml:"address"`
	DeploymentBlock uint64 `yaml:"deployment_block"`
}

// ChainConfig holds everything the obligation engine needs to operate on
// a single chain.
type ChainConfig struct {
	AnswererPrivateKey           string        `yaml:"answerer_private_key"`
	RPCEndpoint                  string        `yaml:"rpc_endpoint"`
	LogsBlocksRange              uint64        `yaml:"logs_blocks_range"`
	LogsPollingIntervalSeconds   uint64        `yaml:"logs_polling_interval_seconds"`
	AnsweringTaskIntervalSeconds uint64        `yaml:"answering_task_interval_seconds"`
	TemplateID                   uint64        `yaml:"template_id"`
	Factory                      FactoryConfig `yaml:"factory"`
}

// APIConfig is the bind address for the validation HTTP collaborator.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// fileConfig is the shape of the YAML file at CONFIG_PATH.
type fileConfig struct {
	DBConnectionString string                 `yaml:"db_connection_string"`
	IPFSAPIEndpoint    string                 `yaml:"ipfs_api_endpoint"`
	Web3StorageAPIKey  string                 `yaml:"web3_storage_api_key"`
	DevMode            bool                   `yaml:"dev_mode"`
	API                APIConfig              `yaml:"api"`
	Chains             map[uint64]ChainConfig `yaml:"chain_configs"`
}

// Config is the fully resolved configuration for one answerer process.
type Config struct {
	DBConnectionString string
	IPFSAPIEndpoint    string
	Web3StorageAPIKey  string
	DevMode            bool
	API                APIConfig
	Chains             map[uint64]ChainConfig

	LogLevel string

	// DB pool tuning: process-wide, since every chain's repositories
	// share one pool. Read from the environment rather than the YAML
	// file because these are deployment-tier knobs (bigger pool on a
	// bigger box), not domain configuration.
	DBMaxOpenConns       int
	DBMaxIdleConns       int
	DBConnMaxIdleSeconds int
	DBConnMaxLifeSeconds int
}

const (
	defaultLogsBlocksRange              = 10_000
	defaultLogsPollingIntervalSeconds   = 1
	defaultAnsweringTaskIntervalSeconds = 10
	defaultAPIHost                      = "127.0.0.1"
	defaultAPIPort                      = 8080
	defaultConfigPath                   = "./config.yaml"
	defaultDBMaxOpenConns               = 25
	defaultDBMaxIdleConns               = 5
	defaultDBConnMaxIdleSeconds         = 300
	defaultDBConnMaxLifeSeconds         = 3600
)

// Load reads the process-wide settings from the environment and the
// per-chain configuration from the file at CONFIG_PATH (or
// defaultConfigPath if unset).
func Load() (*Config, error) {
	path := getEnv("CONFIG_PATH", defaultConfigPath)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file at %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("could not parse config file at %s: %w", path, err)
	}

	if fc.API.Host == "" {
		fc.API.Host = defaultAPIHost
	}
	if fc.API.Port == 0 {
		fc.API.Port = defaultAPIPort
	}

	for chainID, chain := range fc.Chains {
		if chain.LogsBlocksRange == 0 {
			chain.LogsBlocksRange = defaultLogsBlocksRange
		}
		if chain.LogsPollingIntervalSeconds == 0 {
			chain.LogsPollingIntervalSeconds = defaultLogsPollingIntervalSeconds
		}
		if chain.AnsweringTaskIntervalSeconds == 0 {
			chain.AnsweringTaskIntervalSeconds = defaultAnsweringTaskIntervalSeconds
		}
		fc.Chains[chainID] = chain
	}

	cfg := &Config{
		DBConnectionString:   fc.DBConnectionString,
		IPFSAPIEndpoint:      fc.IPFSAPIEndpoint,
		Web3StorageAPIKey:    fc.Web3StorageAPIKey,
		DevMode:              fc.DevMode,
		API:                  fc.API,
		Chains:               fc.Chains,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DBMaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
		DBMaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
		DBConnMaxIdleSeconds: getEnvInt("DB_CONN_MAX_IDLE_SECONDS", defaultDBConnMaxIdleSeconds),
		DBConnMaxLifeSeconds: getEnvInt("DB_CONN_MAX_LIFE_SECONDS", defaultDBConnMaxLifeSeconds),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is complete enough to start the
// engine. It does not attempt to dial any of the configured endpoints.
func (c *Config) Validate() error {
	var problems []string

	if c.DBConnectionString == "" {
		problems = append(problems, "db_connection_string is required")
	}
	if c.IPFSAPIEndpoint == "" {
		problems = append(problems, "ipfs_api_endpoint is required")
	}
	if len(c.Chains) == 0 {
		problems = append(problems, "at least one entry in chain_configs is required")
	}

	for chainID, chain := range c.Chains {
		prefix := fmt.Sprintf("chain_configs[%d]", chainID)
		if chain.AnswererPrivateKey == "" {
			problems = append(problems, prefix+".answerer_private_key is required")
		}
		if chain.RPCEndpoint == "" {
			problems = append(problems, prefix+".rpc_endpoint is required")
		}
		if chain.Factory.Address == "" {
			problems = append(problems, prefix+".factory.address is required")
		}
	}

	if len(problems) > 0 {
		msg := "invalid configuration:"
		for _, p := range problems {
			msg += "\n  - " + p
		}
		return fmt.Errorf("%s", msg)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt reads a process-wide integer setting (the DB pool knobs),
// falling back to defaultValue if unset or unparseable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
