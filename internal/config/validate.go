package config

import "fmt"

// Validate checks required fields and value ranges. Defaults should be
// applied first.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return fmt.Errorf("instance.id is required")
	}

	db := c.Database.Postgres
	if db.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if db.Name == "" {
		return fmt.Errorf("database.postgres.name is required")
	}
	if db.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if db.Password == "" {
		return fmt.Errorf("database.postgres.password is required")
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("database.postgres.min_conns (%d) cannot exceed max_conns (%d)", db.MinConns, db.MaxConns)
	}

	switch c.Matching.MarketRemainder {
	case "cancel", "reject":
	default:
		return fmt.Errorf("matching.market_remainder must be \"cancel\" or \"reject\", got %q", c.Matching.MarketRemainder)
	}

	for tier, tc := range c.Accrual.Tiers {
		if tc.RatePerHour <= 0 {
			return fmt.Errorf("accrual.tiers.%s.rate_per_hour must be positive, got %d", tier, tc.RatePerHour)
		}
		if tc.CapLimit <= 0 {
			return fmt.Errorf("accrual.tiers.%s.cap_limit must be positive, got %d", tier, tc.CapLimit)
		}
	}

	for i, in := range c.Instruments {
		if in.ID == "" {
			return fmt.Errorf("instruments[%d].id is required", i)
		}
		switch in.Kind {
		case "entity", "utility":
		default:
			return fmt.Errorf("instruments[%d].kind must be \"entity\" or \"utility\", got %q", i, in.Kind)
		}
	}

	return nil
}
