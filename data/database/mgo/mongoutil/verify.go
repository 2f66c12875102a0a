package mongoutil

import (
	"LobbyHub/tools/errs"
)

// ValidateAndSetDefaults fills pool and retry limits and derives Uri from
// Address when no Uri is given. The auth source falls back to the target
// database.
func (c *Config) ValidateAndSetDefaults() error {
	switch {
	case c.Database == "":
		return errs.ErrArgs.WrapMsg("mongo: database is required")
	case c.Uri == "" && len(c.Address) == 0:
		return errs.ErrArgs.WrapMsg("mongo: uri or address is required")
	case c.Password != "" && c.Username == "":
		return errs.ErrArgs.WrapMsg("mongo: password given without username")
	}
	c.MaxPoolSize = orDefault(c.MaxPoolSize, defaultMaxPoolSize)
	c.MaxRetry = orDefault(c.MaxRetry, defaultMaxRetry)
	if c.AuthSource == "" {
		c.AuthSource = c.Database
	}
	if c.Uri == "" {
		c.Uri = buildMongoURI(c)
	}
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
