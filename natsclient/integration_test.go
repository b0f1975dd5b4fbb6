//go:build integration

package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/errors"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	client := tc.Client
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	_, err := client.Subscribe(ctx, "media.in.*", func(_ context.Context, subject string, data []byte) {
		mu.Lock()
		got = append(got, subject+"="+string(data))
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "media.in.video", []byte("frame")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "media.in.video=frame", got[0])
}

func TestIntegration_KVWatch(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("mediacompose_test"))
	client := tc.Client
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bucket, err := client.GetKeyValueBucket(ctx, "mediacompose_test")
	require.NoError(t, err)
	kv := client.NewKVStore(bucket, time.Second)

	_, err = kv.Get(ctx, "options")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	_, err = kv.Put(ctx, "options", []byte(`{"dur":5}`))
	require.NoError(t, err)

	updates := make(chan KVEntry, 4)
	go func() { _ = kv.Watch(ctx, "options", func(e KVEntry) { updates <- e }) }()

	select {
	case e := <-updates:
		assert.Equal(t, `{"dur":5}`, string(e.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("no initial value")
	}

	require.NoError(t, kv.Delete(ctx, "options"))
	select {
	case e := <-updates:
		assert.True(t, e.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("no delete notification")
	}

	// Re-creating an existing bucket returns it.
	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "mediacompose_test"})
	require.NoError(t, err)
}
