package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LH_STR", "  value ")
	t.Setenv("LH_INT", "42")
	t.Setenv("LH_BAD_INT", "4x2")
	t.Setenv("LH_BOOL", "on")
	t.Setenv("LH_BOOL_BAD", "maybe")
	t.Setenv("LH_DUR", "250ms")
	t.Setenv("LH_LIST", "a, ,b,")
	t.Setenv("LH_BLANK", "   ")

	assert.Equal(t, "value", GetEnv("LH_STR", "def"))
	assert.Equal(t, "def", GetEnv("LH_BLANK", "def"))
	assert.Equal(t, 42, GetEnvInt("LH_INT", 1))
	assert.Equal(t, 1, GetEnvInt("LH_BAD_INT", 1))
	assert.True(t, GetEnvBool("LH_BOOL", false))
	assert.True(t, GetEnvBool("LH_BOOL_BAD", true))
	assert.False(t, GetEnvBool("LH_UNSET_FLAG", false))
	assert.Equal(t, 250*time.Millisecond, GetEnvDuration("LH_DUR", time.Second))
	assert.Equal(t, []string{"a", "b"}, GetEnvList("LH_LIST", nil))
	assert.Equal(t, []string{"x"}, GetEnvList("LH_UNSET_LIST", []string{"x"}))
}
