package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"LobbyHub/global/config"
	"LobbyHub/module/chat/model"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProducer(t *testing.T) *mocks.AsyncProducer {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewAsyncProducer(t, cfg)
}

func TestArchiverPublishesAndCountsResults(t *testing.T) {
	mp := newMockProducer(t)
	roomMsg := model.MessageRecord{ID: "m1", RoomID: "lobby-1", SenderID: "A", Text: "hi", Seq: 1, SentAt: time.Unix(10, 0)}
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got model.MessageRecord
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.RoomID != "lobby-1" || got.Seq != 1 {
			return errors.New("unexpected room message")
		}
		return nil
	})
	mp.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	a := NewArchiver(mp, "lobby.chat.history")
	a.Archive(roomMsg)
	a.Archive(model.MessageRecord{ID: "m2", SenderID: "A", RecipientID: "B", Text: "psst"})
	a.Close()

	assert.EqualValues(t, 1, a.Sent())
	assert.EqualValues(t, 1, a.Failed())
	assert.EqualValues(t, 0, a.Dropped())
}

func TestArchiverDropsAfterClose(t *testing.T) {
	a := NewArchiver(newMockProducer(t), "topic")
	a.Close()
	a.Archive(model.MessageRecord{ID: "late", RoomID: "r"})
	a.Close()
	assert.EqualValues(t, 1, a.Dropped())
}

func TestArchiveKeyGroupsConversation(t *testing.T) {
	ab := model.MessageRecord{SenderID: "A", RecipientID: "B"}
	ba := model.MessageRecord{SenderID: "B", RecipientID: "A"}
	assert.Equal(t, ab.ArchiveKey(), ba.ArchiveKey())
	assert.Equal(t, "r1", model.MessageRecord{RoomID: "r1", SenderID: "A"}.ArchiveKey())
}

func TestBuildConfig(t *testing.T) {
	cfg := BuildConfig(config.KafkaConfig{ClientID: "lobbyhub", Compression: "LZ4"})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "lobbyhub", cfg.ClientID)
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.True(t, cfg.Producer.Return.Successes)

	assert.Equal(t, sarama.CompressionNone, BuildConfig(config.KafkaConfig{Compression: "brotli"}).Producer.Compression)
}
