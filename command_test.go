package weave

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavedata/weave/database"
)

func TestMemoryCommandQueueFIFO(t *testing.T) {
	q := NewMemoryCommandQueue()
	ctx := context.Background()

	for _, id := range []string{"neg_1", "neg_2", "neg_3"} {
		require.NoError(t, q.Enqueue(ctx, NegotiationCommand{Kind: CommandCancelNegotiation, NegotiationID: id}))
	}

	batch, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "neg_1", batch[0].NegotiationID)
	assert.Equal(t, "neg_2", batch[1].NegotiationID)

	batch, err = q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "neg_3", batch[0].NegotiationID)

	batch, err = q.Dequeue(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestRedisCommandQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisCommandQueue(client, "")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NegotiationCommand{
		Kind:          CommandDeclineNegotiation,
		NegotiationID: "neg_1",
		Reason:        "policy mismatch",
	}))
	require.NoError(t, q.Enqueue(ctx, NegotiationCommand{
		Kind:          CommandCancelNegotiation,
		NegotiationID: "neg_2",
	}))

	batch, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, CommandDeclineNegotiation, batch[0].Kind)
	assert.Equal(t, "neg_1", batch[0].NegotiationID)
	assert.Equal(t, "policy mismatch", batch[0].Reason)
	assert.Equal(t, "neg_2", batch[1].NegotiationID)

	batch, err = q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestRedisCommandQueueSkipsMalformedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisCommandQueue(client, "test:commands")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NegotiationCommand{Kind: CommandCancelNegotiation, NegotiationID: "neg_1"}))
	require.NoError(t, client.LPush(ctx, "test:commands", "not json").Err())

	batch, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "neg_1", batch[0].NegotiationID)
}

func TestCommandProcessorDispatchesByKind(t *testing.T) {
	store := database.NewMemoryDatasource(database.StoreOptions{})
	proc := NewCommandProcessor(store)

	var handled []string
	proc.RegisterHandler(CommandCancelNegotiation, func(_ context.Context, cmd NegotiationCommand) error {
		handled = append(handled, cmd.NegotiationID)
		return nil
	})

	err := proc.Process(context.Background(), NegotiationCommand{
		Kind:          CommandCancelNegotiation,
		NegotiationID: "neg_1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"neg_1"}, handled)

	err = proc.Process(context.Background(), NegotiationCommand{Kind: "unknown-kind"})
	assert.Error(t, err)
}
