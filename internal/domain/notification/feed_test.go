package notification

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_NewestFirst(t *testing.T) {
	f := NewFeed()
	ctx := context.Background()

	require.NoError(t, f.Consume(ctx, Event{PartnerID: "DP001", Title: "first"}))
	require.NoError(t, f.Consume(ctx, Event{PartnerID: "DP001", Title: "second"}))

	evs := f.List("DP001")
	require.Len(t, evs, 2)
	assert.Equal(t, "second", evs[0].Title)
	assert.Equal(t, "first", evs[1].Title)
	assert.NotEmpty(t, evs[0].ID)
}

func TestFeed_UnreadCount(t *testing.T) {
	f := NewFeed()
	ctx := context.Background()

	require.NoError(t, f.Consume(ctx, Event{PartnerID: "DP001", Title: "a"}))
	require.NoError(t, f.Consume(ctx, Event{PartnerID: "DP001", Title: "b"}))
	require.NoError(t, f.Consume(ctx, Event{PartnerID: "DP002", Title: "other partner"}))
	assert.Equal(t, 2, f.UnreadCount("DP001"))

	evs := f.List("DP001")
	require.True(t, f.MarkRead("DP001", evs[0].ID))
	assert.Equal(t, 1, f.UnreadCount("DP001"))
	assert.True(t, f.IsRead(evs[0].ID))

	// Unknown event or wrong partner leaves counts untouched.
	assert.False(t, f.MarkRead("DP001", "nope"))
	assert.False(t, f.MarkRead("DP002", evs[0].ID))
	assert.Equal(t, 1, f.UnreadCount("DP001"))
}

func TestFeed_CapsPerPartner(t *testing.T) {
	f := NewFeed()
	ctx := context.Background()

	require.NoError(t, f.Consume(ctx, Event{PartnerID: "DP001", Title: "oldest"}))
	oldest := f.List("DP001")[0]
	require.True(t, f.MarkRead("DP001", oldest.ID))

	for i := 0; i < maxFeedEvents; i++ {
		require.NoError(t, f.Consume(ctx, Event{PartnerID: "DP001", Title: "filler"}))
	}

	evs := f.List("DP001")
	require.Len(t, evs, maxFeedEvents)
	for _, ev := range evs {
		assert.NotEqual(t, oldest.ID, ev.ID)
	}

	// The dropped event's read mark is released with it.
	assert.False(t, f.IsRead(oldest.ID))
	assert.Equal(t, maxFeedEvents, f.UnreadCount("DP001"))

	// Other partners are unaffected by DP001's churn.
	require.NoError(t, f.Consume(ctx, Event{PartnerID: "DP002", Title: "solo"}))
	assert.Len(t, f.List("DP002"), 1)
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	var a, b int
	boom := errors.New("boom")

	sink := Fanout(
		SinkFunc(func(context.Context, Event) error { a++; return boom }),
		SinkFunc(func(context.Context, Event) error { b++; return nil }),
	)

	err := sink.Consume(context.Background(), Event{Title: "x"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
