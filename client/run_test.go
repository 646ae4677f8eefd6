package client_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opendxl/opendxl-streaming-client-go/cerr"
	"github.com/opendxl/opendxl-streaming-client-go/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("happy consume cycle", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()
		f.onRecords = func(id string, n int) (int, string) {
			if n == 1 {
				return 200, fmt.Sprintf(
					`{"records":[{"routingData":{"topic":"t","shardingKey":""},"partition":0,"offset":0,"message":{"headers":{},"payload":%q}}]}`,
					b64(`{"m":1}`))
			}
			return 200, `{"records":[]}`
		}

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		var batches [][]client.Record
		err := ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
			batches = append(batches, records)
			return len(batches) < 2, nil
		}, client.RunConfig{
			Topics:             []string{"t"},
			WaitBetweenQueries: 10 * time.Millisecond,
		})
		require.NoError(t, err)

		require.Len(t, batches, 2)
		require.Len(t, batches[0], 1)
		assert.JSONEq(t, `{"m":1}`, string(batches[0][0].Payload))
		assert.Empty(t, batches[1])

		// One commit for the non-empty batch, none for the empty one.
		assert.Equal(t, 1, f.count("POST "+consumerPrefix+"/consumers/c1/offsets"))
	})

	t.Run("consumer lost mid-run", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()
		f.onRecords = func(id string, n int) (int, string) {
			if id == "c1" {
				return 404, ""
			}
			if n == 2 {
				return 200, fmt.Sprintf(
					`{"records":[{"routingData":{"topic":"t","shardingKey":""},"partition":0,"offset":5,"message":{"headers":{},"payload":%q}}]}`,
					b64(`{"m":1}`))
			}
			return 200, `{"records":[]}`
		}

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		var got []client.Record
		err := ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
			got = append(got, records...)
			return false, nil
		}, client.RunConfig{
			Topics:             []string{"t"},
			WaitBetweenQueries: 10 * time.Millisecond,
		})
		require.NoError(t, err)

		// A second consumer was created and subscribed after the 404.
		assert.Equal(t, 2, f.count("POST "+consumerPrefix+"/consumers"))
		assert.Equal(t, 1, f.count("POST "+consumerPrefix+"/consumers/c1/subscription"))
		assert.Equal(t, 1, f.count("POST "+consumerPrefix+"/consumers/c2/subscription"))

		// Nothing from c1 was ever committed against c2.
		assert.Equal(t, 0, f.count("POST "+consumerPrefix+"/consumers/c1/offsets"))
		require.Len(t, got, 1)
		assert.Equal(t, int64(5), got[0].Offset)
	})

	t.Run("stop during wait", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		firstBatch := make(chan struct{})
		var once sync.Once

		done := make(chan error, 1)
		go func() {
			done <- ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
				once.Do(func() { close(firstBatch) })
				return true, nil
			}, client.RunConfig{
				Topics:             []string{"t"},
				WaitBetweenQueries: 5 * time.Second,
			})
		}()

		<-firstBatch
		// Give the loop a moment to enter the wait.
		time.Sleep(50 * time.Millisecond)

		start := time.Now()
		require.NoError(t, ch.Stop(context.Background()))
		assert.Less(t, time.Since(start), 100*time.Millisecond)

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(1 * time.Second):
			t.Fatal("run did not exit after stop")
		}
	})

	t.Run("all stop waiters released", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		started := make(chan struct{})
		var once sync.Once

		done := make(chan error, 1)
		go func() {
			done <- ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
				once.Do(func() { close(started) })
				return true, nil
			}, client.RunConfig{
				Topics:             []string{"t"},
				WaitBetweenQueries: 5 * time.Second,
			})
		}()

		<-started
		time.Sleep(20 * time.Millisecond)

		var wg sync.WaitGroup
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, ch.Stop(context.Background()))
			}()
		}
		wg.Wait()
		require.NoError(t, <-done)

		// Stopping an idle channel returns immediately.
		require.NoError(t, ch.Stop(context.Background()))
	})

	t.Run("process error exits the loop", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		wantErr := fmt.Errorf("handler broke")
		err := ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
			return false, wantErr
		}, client.RunConfig{Topics: []string{"t"}})

		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("process panic captured", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		err := ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
			panic("kaboom")
		}, client.RunConfig{Topics: []string{"t"}})

		require.Error(t, err)
		assert.True(t, cerr.IsPermanent(err))
		assert.Contains(t, err.Error(), "kaboom")
	})

	t.Run("rejects concurrent run", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		started := make(chan struct{})
		var once sync.Once

		done := make(chan error, 1)
		go func() {
			done <- ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
				once.Do(func() { close(started) })
				return true, nil
			}, client.RunConfig{
				Topics:             []string{"t"},
				WaitBetweenQueries: 5 * time.Second,
			})
		}()

		<-started
		err := ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
			return false, nil
		}, client.RunConfig{Topics: []string{"t"}})
		assert.True(t, cerr.IsPermanent(err))

		require.NoError(t, ch.Stop(context.Background()))
		require.NoError(t, <-done)
	})

	t.Run("requires process callback and topics", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		err := ch.Run(context.Background(), nil, client.RunConfig{Topics: []string{"t"}})
		assert.True(t, cerr.IsPermanent(err))

		err = ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
			return false, nil
		}, client.RunConfig{})
		assert.True(t, cerr.IsPermanent(err))
	})

	t.Run("requires consumer group", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{})
		err := ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
			return false, nil
		}, client.RunConfig{Topics: []string{"t"}})
		assert.True(t, cerr.IsPermanent(err))
	})

	t.Run("reuses active subscription when no topics passed", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})
		require.NoError(t, ch.Subscribe(context.Background(), "t"))
		subs := f.count("POST " + consumerPrefix + "/consumers/c1/subscription")

		err := ch.Run(context.Background(), func(_ context.Context, records []client.Record) (bool, error) {
			return false, nil
		}, client.RunConfig{})
		require.NoError(t, err)

		// The standing subscription was reused: no extra subscribe call.
		assert.Equal(t, subs, f.count("POST "+consumerPrefix+"/consumers/c1/subscription"))
	})

	t.Run("context cancellation during wait", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{ConsumerGroup: "grp"})

		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{})
		var once sync.Once

		done := make(chan error, 1)
		go func() {
			done <- ch.Run(ctx, func(_ context.Context, records []client.Record) (bool, error) {
				once.Do(func() { close(started) })
				return true, nil
			}, client.RunConfig{
				Topics:             []string{"t"},
				WaitBetweenQueries: 5 * time.Second,
			})
		}()

		<-started
		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(1 * time.Second):
			t.Fatal("run did not exit after cancel")
		}
	})
}
