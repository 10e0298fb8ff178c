package config

import "time"

// Config is the root configuration for an exchange instance.
type Config struct {
	Instance    InstanceConfig     `yaml:"instance"`
	Database    DatabaseConfig     `yaml:"database"`
	Matching    MatchingConfig     `yaml:"matching"`
	Accrual     AccrualConfig      `yaml:"accrual"`
	Reconciler  ReconcilerConfig   `yaml:"reconciler"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Health      HealthConfig       `yaml:"health"`
}

// InstanceConfig identifies this exchange instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// DatabaseConfig holds the ledger database connection.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MatchingConfig holds order matching policy.
type MatchingConfig struct {
	// MarketRemainder is what happens to a market order's unfilled
	// remainder: "cancel" or "reject".
	MarketRemainder string `yaml:"market_remainder"`
}

// AccrualConfig holds accrual engine settings.
type AccrualConfig struct {
	SweepInterval    time.Duration         `yaml:"sweep_interval"`
	SweepConcurrency int                   `yaml:"sweep_concurrency"`
	Tiers            map[string]TierConfig `yaml:"tiers"`
}

// TierConfig is the accrual rate and cap for one account tier.
type TierConfig struct {
	RatePerHour int64 `yaml:"rate_per_hour"`
	CapLimit    int64 `yaml:"cap_limit"`
}

// ReconcilerConfig holds orphaned-lock reconciliation settings.
type ReconcilerConfig struct {
	Interval time.Duration `yaml:"interval"`
	MinAge   time.Duration `yaml:"min_age"`
}

// InstrumentConfig seeds one tradable instrument at startup.
type InstrumentConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"` // "entity" or "utility"
	Name string `yaml:"name"`
}

// HealthConfig holds the health/feed HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
