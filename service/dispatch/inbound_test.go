package dispatch

import (
	"testing"

	"LobbyHub/module/chat/model"
	"LobbyHub/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeepsChatTextVerbatim(t *testing.T) {
	f, cmd, err := Decode([]byte(`{"type":"lobbyChatMessage","id":"9","data":{"roomID":" r ","text":"    func main() {}\n"}}`))
	require.NoError(t, err)
	assert.Equal(t, "9", f.ID)
	msg, ok := cmd.(LobbyChatMessageCmd)
	require.True(t, ok)
	assert.Equal(t, "r", msg.RoomID)
	assert.Equal(t, "    func main() {}\n", msg.Text)

	_, cmd, err = Decode([]byte(`{"type":"sendFriendRequest","data":{"toUserID":"bob ","message":"  hi\n\n"}}`))
	require.NoError(t, err)
	req := cmd.(SendFriendRequestCmd)
	assert.Equal(t, "bob", req.ToUserID)
	assert.Equal(t, "  hi\n\n", req.Message)

	_, cmd, err = Decode([]byte(`{"type":"privateMessage","data":{"toUserID":"bob","text":"\tindented"}}`))
	require.NoError(t, err)
	assert.Equal(t, "\tindented", cmd.(PrivateMessageCmd).Text)
}

func TestDecodeTrimsIdentifiers(t *testing.T) {
	_, cmd, err := Decode([]byte(`{"type":"listPending","data":{"direction":" incoming "}}`))
	require.NoError(t, err)
	assert.Equal(t, model.Direction("incoming"), cmd.(ListPendingCmd).Direction)

	_, _, err = Decode([]byte(`{"type":"joinLobby","data":{"roomID":"   "}}`))
	assert.True(t, errs.ErrMalformedEvent.Is(err))
}
