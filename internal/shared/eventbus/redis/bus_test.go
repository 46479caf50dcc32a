package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"users-admin/internal/shared/model"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	b, err := NewBus(url, "users-admin-test:"+t.Name())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := testBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	created := model.NewCreatedEvent(&model.User{ID: 1, Name: "Ann", Email: "ann@x.com"})
	deleted := model.NewDeletedEvent(1)
	require.NoError(t, b.Publish(ctx, &created))
	require.NoError(t, b.Publish(ctx, &deleted))

	var kinds []model.ChangeKind
	for len(kinds) < 2 {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []model.ChangeKind{model.ChangeCreated, model.ChangeDeleted}, kinds)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}
