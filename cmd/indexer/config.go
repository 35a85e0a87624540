package main

import (
	"github.com/dipdup-net/go-lib/config"
)

// Config -
type Config struct {
	config.Config `yaml:",inline"`
	Indexer       IndexerConfig `yaml:"indexer"`
	Metrics       Metrics       `yaml:"metrics"`
	LogLevel      string        `yaml:"log_level" validate:"omitempty,oneof=debug trace info warn error fatal panic"`
}

// Substitute -
func (c *Config) Substitute() error {
	if err := c.Config.Substitute(); err != nil {
		return err
	}
	return nil
}

// Load -
func Load(filename string) (cfg Config, err error) {
	err = config.Parse(filename, &cfg)
	return
}

// IndexerConfig -
type IndexerConfig struct {
	Name          string       `yaml:"name" validate:"required"`
	Datasource    string       `yaml:"datasource" validate:"required"`
	StartLevel    uint64       `yaml:"start_level" validate:"min=0"`
	Workers       int          `yaml:"workers" validate:"omitempty,min=1"`
	MaxRetries    uint64       `yaml:"max_retries" validate:"omitempty,min=1"`
	RetryInterval int          `yaml:"retry_interval" validate:"omitempty,min=1"`
	PollInterval  int          `yaml:"poll_interval" validate:"omitempty,min=1"`
	ReorgDepth    int          `yaml:"reorg_depth" validate:"omitempty,min=1"`
	CacheSize     int64        `yaml:"cache_size" validate:"omitempty,min=1"`
	Filler        FillerConfig `yaml:"filler"`
	MaxCPU        int          `yaml:"max_cpu,omitempty" validate:"omitempty,min=1"`
}

// FillerConfig -
type FillerConfig struct {
	Datasource   string `yaml:"datasource" validate:"omitempty"`
	WorkersCount int    `yaml:"workers_count" validate:"omitempty,min=1"`
	MaxAttempts  int    `yaml:"max_attempts" validate:"omitempty,min=1"`
	Delay        int    `yaml:"delay" validate:"omitempty,min=1"`
}

// Metrics -
type Metrics struct {
	Listen string `yaml:"listen" validate:"omitempty"`
}
