package client_test

import (
	"context"
	"testing"

	"github.com/opendxl/opendxl-streaming-client-go/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelConfig(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		conf := client.ChannelConfig{}
		require.NoError(t, conf.ValidateAndSetDefaults())
		assert.Equal(t, client.DefaultConsumerPathPrefix, conf.ConsumerPathPrefix)
		assert.Equal(t, client.DefaultProducerPathPrefix, conf.ProducerPathPrefix)
		assert.Equal(t, client.OffsetLatest, conf.Offset)
	})

	t.Run("path prefix overrides both", func(t *testing.T) {
		conf := client.ChannelConfig{PathPrefix: "/svc/v2"}
		require.NoError(t, conf.ValidateAndSetDefaults())
		assert.Equal(t, "/svc/v2", conf.ConsumerPathPrefix)
		assert.Equal(t, "/svc/v2", conf.ProducerPathPrefix)
	})

	t.Run("explicit prefixes kept", func(t *testing.T) {
		conf := client.ChannelConfig{
			ConsumerPathPrefix: "/c/v1",
			ProducerPathPrefix: "/p/v1",
		}
		require.NoError(t, conf.ValidateAndSetDefaults())
		assert.Equal(t, "/c/v1", conf.ConsumerPathPrefix)
		assert.Equal(t, "/p/v1", conf.ProducerPathPrefix)
	})

	t.Run("offset validated", func(t *testing.T) {
		conf := client.ChannelConfig{Offset: "newest"}
		assert.Error(t, conf.ValidateAndSetDefaults())
	})

	t.Run("auto commit override lands on the wire", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{
			ConsumerGroup:     "grp",
			Offset:            client.OffsetEarliest,
			AutoCommitEnabled: true,
		})
		require.NoError(t, ch.Create(context.Background()))

		body := f.lastBody("POST " + consumerPrefix + "/consumers")
		assert.Contains(t, body, `"enable.auto.commit":"true"`)
		assert.Contains(t, body, `"auto.offset.reset":"earliest"`)
	})

	t.Run("named options override extras", func(t *testing.T) {
		f := newFakeService()
		defer f.Close()

		ch := newTestChannel(t, f, client.ChannelConfig{
			ConsumerGroup: "grp",
			ExtraConfigs: map[string]string{
				"auto.offset.reset": "earliest",
				"fetch.min.bytes":   "64",
			},
		})
		require.NoError(t, ch.Create(context.Background()))

		body := f.lastBody("POST " + consumerPrefix + "/consumers")
		assert.Contains(t, body, `"auto.offset.reset":"latest"`)
		assert.Contains(t, body, `"fetch.min.bytes":"64"`)
	})
}
