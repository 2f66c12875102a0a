package model

import "time"

// MessageRecord is a chat message after the server accepted it. Room
// messages carry RoomID and Seq; direct messages carry RecipientID.
type MessageRecord struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomID,omitempty"`
	SenderID    string    `json:"sender"`
	RecipientID string    `json:"recipient,omitempty"`
	Text        string    `json:"text"`
	Seq         uint64    `json:"seq,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

func (m MessageRecord) IsDirect() bool { return m.RoomID == "" }

// ArchiveKey groups messages of one conversation: the room ID, or the pair
// key for direct messages.
func (m MessageRecord) ArchiveKey() string {
	if m.IsDirect() {
		return PairKey(m.SenderID, m.RecipientID)
	}
	return m.RoomID
}
