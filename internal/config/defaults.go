package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultMarketRemainder = "cancel"

	DefaultSweepInterval    = time.Minute
	DefaultSweepConcurrency = 8

	DefaultStandardRatePerHour int64 = 10
	DefaultStandardCapLimit    int64 = 240
	DefaultPremiumRatePerHour  int64 = 25
	DefaultPremiumCapLimit     int64 = 1200

	DefaultReconcileInterval = 5 * time.Minute
	DefaultReconcileMinAge   = time.Hour

	DefaultHealthPort = 8080
)

func (c *Config) applyDefaults() {
	// Database defaults
	db := &c.Database.Postgres
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}

	// Matching defaults
	if c.Matching.MarketRemainder == "" {
		c.Matching.MarketRemainder = DefaultMarketRemainder
	}

	// Accrual defaults
	if c.Accrual.SweepInterval == 0 {
		c.Accrual.SweepInterval = DefaultSweepInterval
	}
	if c.Accrual.SweepConcurrency == 0 {
		c.Accrual.SweepConcurrency = DefaultSweepConcurrency
	}
	if c.Accrual.Tiers == nil {
		c.Accrual.Tiers = make(map[string]TierConfig)
	}
	if _, ok := c.Accrual.Tiers["standard"]; !ok {
		c.Accrual.Tiers["standard"] = TierConfig{
			RatePerHour: DefaultStandardRatePerHour,
			CapLimit:    DefaultStandardCapLimit,
		}
	}
	if _, ok := c.Accrual.Tiers["premium"]; !ok {
		c.Accrual.Tiers["premium"] = TierConfig{
			RatePerHour: DefaultPremiumRatePerHour,
			CapLimit:    DefaultPremiumCapLimit,
		}
	}

	// Reconciler defaults
	if c.Reconciler.Interval == 0 {
		c.Reconciler.Interval = DefaultReconcileInterval
	}
	if c.Reconciler.MinAge == 0 {
		c.Reconciler.MinAge = DefaultReconcileMinAge
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}
