package redis

import (
	"context"
	"testing"

	"LobbyHub/tools/errs"

	"github.com/stretchr/testify/assert"
)

func TestNewClientNeedsAddr(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.True(t, errs.ErrArgs.Is(err))
}

func TestOptions(t *testing.T) {
	o := Config{Addr: "cache:6379", DB: 2, PoolSize: 16}.options()
	assert.Equal(t, "cache:6379", o.Addr)
	assert.Equal(t, 2, o.DB)
	assert.Equal(t, 16, o.PoolSize)
	assert.Equal(t, ioTimeout, o.ReadTimeout)
	assert.Equal(t, pingTimeout, o.DialTimeout)
}
