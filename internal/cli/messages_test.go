package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage(map[string]any{
		"id":     "msg_1",
		"to":     "+15550100",
		"body":   "hello",
		"status": "queued",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.ID)
	assert.Equal(t, "+15550100", msg.To)
	assert.Equal(t, "queued", msg.Status)

	_, err = decodeMessage(map[string]any{"status": "queued"})
	require.Error(t, err, "a message without an ID is malformed")
}

func TestDecodeMessageList(t *testing.T) {
	msgs, err := decodeMessageList(map[string]any{
		"data": []any{
			map[string]any{"id": "msg_1", "to": "+15550100", "status": "delivered"},
			map[string]any{"id": "msg_2", "to": "+15550101", "status": "failed"},
		},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg_1", msgs[0].ID)
	assert.Equal(t, "failed", msgs[1].Status)

	empty, err := decodeMessageList(map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestIsFinalStatus(t *testing.T) {
	assert.True(t, isFinalStatus("delivered"))
	assert.True(t, isFinalStatus("failed"))
	assert.False(t, isFinalStatus("queued"))
	assert.False(t, isFinalStatus("sent"))
	assert.False(t, isFinalStatus(""))
}

func TestFormatMessageLineTruncatesBody(t *testing.T) {
	m := Message{ID: "msg_1", To: "+15550100", Status: "sent", Body: "short"}
	assert.Contains(t, formatMessageLine(m), `"short"`)

	long := make([]byte, 60)
	for i := range long {
		long[i] = 'a'
	}
	m.Body = string(long)
	line := formatMessageLine(m)
	assert.Contains(t, line, "...")
	assert.NotContains(t, line, m.Body)
}

func TestDestinationValidation(t *testing.T) {
	assert.NoError(t, validate.Var("+15550100", "required,e164"))
	assert.Error(t, validate.Var("15550100", "required,e164"), "missing + prefix")
	assert.Error(t, validate.Var("not-a-number", "required,e164"))
	assert.Error(t, validate.Var("", "required,e164"))
}
