package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "sync.completed", map[string]int{"files": 3})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "sync.error", "missing bucket")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "sync.completed", msgs[0].EventType)
	assert.JSONEq(t, `{"files":3}`, string(msgs[0].Data))

	var text string
	require.NoError(t, msgs[1].Decode(&text))
	assert.Equal(t, "missing bucket", text)

	msgs[0].EventType = "modified"
	assert.Equal(t, "sync.completed", pub.Messages()[0].EventType)
}

func TestPublisherRetainsNewest(t *testing.T) {
	t.Parallel()

	pub := New(WithRetain(2))
	for i := 0; i < 5; i++ {
		_, err := pub.Publish(context.Background(), "sync.completed", struct{}{})
		require.NoError(t, err)
	}
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "memory-4", msgs[0].ID)
	assert.Equal(t, "memory-5", msgs[1].ID)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "sync.completed", make(chan int))
	require.Error(t, err)
	assert.Empty(t, pub.Messages())
}
