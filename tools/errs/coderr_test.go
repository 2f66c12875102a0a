package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrNotAMember.WrapMsg("send message", "room", "lobby-1", "user", "a")

	assert.True(t, errors.Is(err, ErrNotAMember))
	assert.False(t, errors.Is(err, ErrRoomNotFound))

	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, NotAMemberError, ce.Code)
	assert.Equal(t, "send message room=lobby-1 user=a", ce.Detail)
	assert.Empty(t, ErrNotAMember.Detail, "sentinel must not be mutated")
}

func TestIsThroughForeignWrappers(t *testing.T) {
	err := fmt.Errorf("handler: %w", WrapMsg(ErrRoomNotFound.Wrap(), "join"))
	assert.True(t, errors.Is(err, ErrRoomNotFound))
}

func TestWrapMsgDanglingKey(t *testing.T) {
	ce, _ := AsCode(ErrArgs.WrapMsg("", "room"))
	assert.Equal(t, "room=MISSING", ce.Detail)
	assert.Nil(t, WrapMsg(nil, "ignored"))
}

func TestPublicHidesUnknownErrors(t *testing.T) {
	assert.Equal(t, ErrInternalServer, Public(errors.New("dial tcp: refused")))
	assert.Equal(t, SelfRequestError, Public(ErrSelfRequest.Wrap()).Code)
	assert.Nil(t, Public(nil))
}

func TestWithDetailAppends(t *testing.T) {
	e := ErrArgs.WithDetail("text").WithDetail("too long")
	assert.Equal(t, "1013 invalid argument text, too long", e.Error())
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("boom")
	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)

	// a CodeError panic keeps its own code
	ce, ok = AsCode(ErrPanic(ErrRoomNotFound))
	require.True(t, ok)
	assert.Equal(t, ErrRoomNotFound.Code, ce.Code)

	ce, _ = AsCode(ErrPanic(errors.New("nil map")))
	assert.Equal(t, "*errors.errorString: nil map", ce.Detail)
}
