package client

import (
	"strconv"

	"github.com/opendxl/opendxl-streaming-client-go/cerr"
	tls_config "github.com/opendxl/opendxl-streaming-client-go/config/tls"
)

const (
	DefaultConsumerPathPrefix = "/databus/consumer-service/v1"
	DefaultProducerPathPrefix = "/databus/cloudproxy/v1"

	OffsetLatest   = "latest"
	OffsetEarliest = "earliest"
	OffsetNone     = "none"
)

// ChannelConfig holds the caller options a channel is constructed with.
// Timeouts are in seconds; the service expects them as millisecond strings.
type ChannelConfig struct {
	ConsumerGroup string `yaml:"consumer_group"`

	// PathPrefix overrides both service prefixes when set.
	PathPrefix         string `yaml:"path_prefix"`
	ConsumerPathPrefix string `yaml:"consumer_path_prefix"`
	ProducerPathPrefix string `yaml:"producer_path_prefix"`

	Offset         string `yaml:"offset"`
	SessionTimeout int    `yaml:"session_timeout"`
	RequestTimeout int    `yaml:"request_timeout"`

	AutoCommitEnabled  bool `yaml:"auto_commit_enabled"`
	DisableRetryOnFail bool `yaml:"disable_retry_on_fail"`

	ExtraConfigs map[string]string `yaml:"extra_configs"`

	TLS tls_config.TLSConfig `yaml:"tls"`
}

func (c *ChannelConfig) ValidateAndSetDefaults() error {
	if c.PathPrefix != "" {
		c.ConsumerPathPrefix = c.PathPrefix
		c.ProducerPathPrefix = c.PathPrefix
	}
	if c.ConsumerPathPrefix == "" {
		c.ConsumerPathPrefix = DefaultConsumerPathPrefix
	}
	if c.ProducerPathPrefix == "" {
		c.ProducerPathPrefix = DefaultProducerPathPrefix
	}

	switch c.Offset {
	case "":
		c.Offset = OffsetLatest
	case OffsetLatest, OffsetEarliest, OffsetNone:
	default:
		return cerr.Permanent("invalid offset %q: must be one of latest, earliest, none", c.Offset)
	}

	return nil
}

// consumerConfigs materializes the server-side consumer config strings.
// Named options override caller-supplied extras.
func (c *ChannelConfig) consumerConfigs() map[string]string {
	configs := make(map[string]string, len(c.ExtraConfigs)+4)
	for k, v := range c.ExtraConfigs {
		configs[k] = v
	}

	configs["auto.offset.reset"] = c.Offset
	configs["enable.auto.commit"] = strconv.FormatBool(c.AutoCommitEnabled)
	if c.SessionTimeout > 0 {
		configs["session.timeout.ms"] = strconv.Itoa(c.SessionTimeout * 1000)
	}
	if c.RequestTimeout > 0 {
		configs["request.timeout.ms"] = strconv.Itoa(c.RequestTimeout * 1000)
	}

	return configs
}
