package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultListenAddress = ":8546"
	defaultDataDir       = "./basalt-data"
	defaultLogLevel      = "info"
)

// scalar7 mirrors the seven decimal fixed point used by the pool
// engine; configuration carries those values as plain integers.
const scalar7 = 10_000_000

// Config is the top level node configuration decoded from TOML.
type Config struct {
	ListenAddress string `toml:"listen_address"`
	DataDir       string `toml:"data_dir"`
	LogLevel      string `toml:"log_level"`

	Pool     Pool      `toml:"pool"`
	Reserves []Reserve `toml:"reserves"`
}

// Pool holds the pool-wide parameters the engine is constructed with.
// Addresses are hex encoded; rates carry seven decimals.
type Pool struct {
	PoolAddress      string `toml:"pool_address"`
	BackstopAddress  string `toml:"backstop_address"`
	BackstopToken    string `toml:"backstop_token"`
	BackstopRate     int64  `toml:"backstop_rate"`
	LiquidationBonus int64  `toml:"liquidation_bonus"`
}

// Reserve configures one lending reserve. Factors, the utilization
// target and the rate segments carry seven decimals.
type Reserve struct {
	Asset      string `toml:"asset"`
	Decimals   uint32 `toml:"decimals"`
	CFactor    int64  `toml:"c_factor"`
	LFactor    int64  `toml:"l_factor"`
	Util       int64  `toml:"util"`
	RBase      int64  `toml:"r_base"`
	ROne       int64  `toml:"r_one"`
	RTwo       int64  `toml:"r_two"`
	Reactivity uint64 `toml:"reactivity"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: defaultListenAddress,
		DataDir:       defaultDataDir,
		LogLevel:      defaultLogLevel,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems before the
// node starts.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: listen_address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if err := validateAddress("pool.pool_address", c.Pool.PoolAddress); err != nil {
		return err
	}
	if err := validateAddress("pool.backstop_address", c.Pool.BackstopAddress); err != nil {
		return err
	}
	if err := validateAddress("pool.backstop_token", c.Pool.BackstopToken); err != nil {
		return err
	}
	if c.Pool.BackstopRate < 0 || c.Pool.BackstopRate > scalar7 {
		return fmt.Errorf("config: pool.backstop_rate out of range: %d", c.Pool.BackstopRate)
	}
	if c.Pool.LiquidationBonus < 0 || c.Pool.LiquidationBonus > scalar7 {
		return fmt.Errorf("config: pool.liquidation_bonus out of range: %d", c.Pool.LiquidationBonus)
	}
	seen := make(map[string]struct{}, len(c.Reserves))
	for i, reserve := range c.Reserves {
		if err := reserve.validate(i); err != nil {
			return err
		}
		key := common.HexToAddress(reserve.Asset).Hex()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("config: reserves[%d]: duplicate asset %s", i, reserve.Asset)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (r Reserve) validate(i int) error {
	if err := validateAddress(fmt.Sprintf("reserves[%d].asset", i), r.Asset); err != nil {
		return err
	}
	if r.Decimals > 18 {
		return fmt.Errorf("config: reserves[%d]: decimals out of range: %d", i, r.Decimals)
	}
	if r.CFactor < 0 || r.CFactor > scalar7 {
		return fmt.Errorf("config: reserves[%d]: c_factor out of range: %d", i, r.CFactor)
	}
	if r.LFactor <= 0 || r.LFactor > scalar7 {
		return fmt.Errorf("config: reserves[%d]: l_factor out of range: %d", i, r.LFactor)
	}
	if r.Util <= 0 || r.Util >= scalar7 {
		return fmt.Errorf("config: reserves[%d]: util out of range: %d", i, r.Util)
	}
	if r.RBase < 0 || r.ROne < 0 || r.RTwo < 0 {
		return fmt.Errorf("config: reserves[%d]: rate segments must not be negative", i)
	}
	return nil
}

func validateAddress(field, value string) error {
	if value == "" {
		return fmt.Errorf("config: %s must not be empty", field)
	}
	if !common.IsHexAddress(value) {
		return fmt.Errorf("config: %s is not a hex address: %s", field, value)
	}
	return nil
}
