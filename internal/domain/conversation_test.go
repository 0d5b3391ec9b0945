package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("A", "B"), PairKey("B", "A"))
	assert.Equal(t, "1:A:A", PairKey("A", "A"))
	assert.NotEqual(t, PairKey("A", "B"), PairKey("A", "C"))
}

func TestPairKey_SeparatorInIDs(t *testing.T) {
	assert.NotEqual(t, PairKey("a:b", "c"), PairKey("a", "b:c"))
	assert.NotEqual(t, PairKey("a:", "b"), PairKey("a", ":b"))
	assert.Equal(t, PairKey("a:b", "c"), PairKey("c", "a:b"))
}

func TestMessageView_DateIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	msg := &Message{ID: "m1", CreatedAt: time.Date(2024, 5, 2, 3, 0, 0, 0, loc)}

	assert.Equal(t, "2024-05-01", msg.View().Date)
}

func TestGroupByDate(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 5, d, h, 0, 0, 0, time.UTC) }
	messages := []Message{
		{ID: "1", CreatedAt: day(1, 9)},
		{ID: "2", CreatedAt: day(1, 10)},
		{ID: "3", CreatedAt: day(3, 8)},
	}

	groups := GroupByDate(messages)
	require.Len(t, groups, 2)
	assert.Equal(t, "2024-05-01", groups[0].Date)
	assert.Equal(t, "1", groups[0].Messages[0].ID)
	assert.Equal(t, "2", groups[0].Messages[1].ID)
	assert.Equal(t, "2024-05-03", groups[1].Date)

	assert.NotNil(t, GroupByDate(nil))
}

func TestUnreadFor(t *testing.T) {
	conv := &Conversation{UserOneID: "A", UserTwoID: "B", UnreadCountUserOne: 2, UnreadCountUserTwo: 5}
	assert.Equal(t, 2, conv.UnreadFor("A"))
	assert.Equal(t, 5, conv.UnreadFor("B"))
	assert.Zero(t, conv.UnreadFor("C"))
	assert.True(t, conv.HasParticipant("B"))
	assert.False(t, conv.HasParticipant("C"))
}

func TestNewMessageMessage_IsFlat(t *testing.T) {
	msg := &Message{ID: "m1", ConversationID: "c1", SenderID: "A", ReceiverID: "B", Content: "hi", CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}

	data, err := json.Marshal(&NewMessageMessage{Type: MsgTypeNewMessage, MessageView: msg.View()})
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "new_message", m["type"])
	assert.Equal(t, "hi", m["content"])
	assert.Equal(t, "c1", m["conversation_id"])
	assert.Equal(t, "2024-05-01", m["date"])
}

func TestSession_Claim(t *testing.T) {
	s := NewSession("conn")
	assert.Equal(t, "A", s.Claim("A"))
	assert.Equal(t, "A", s.Claim("B"))
	assert.False(t, s.IsAuthenticated())

	s.Authenticate("A", "alice")
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "A", s.GetUserID())
	assert.Equal(t, "alice", s.Username())
	assert.Less(t, s.IdleFor(time.Now()), time.Minute)
}
