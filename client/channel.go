// Package client implements a session object for a REST-fronted streaming
// message service. A Channel binds one consumer group to one server-side
// consumer instance and drives its lifecycle: create, subscribe, consume,
// commit, delete. A long-running consume loop with cooperative stop and
// consumer-loss recovery is provided by Run.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/opendxl/opendxl-streaming-client-go/cerr"
	"github.com/opendxl/opendxl-streaming-client-go/client/auth"
	"github.com/opendxl/opendxl-streaming-client-go/internal/rest"
	"github.com/opendxl/opendxl-streaming-client-go/internal/retry"
)

const produceContentType = "application/vnd.dxl.intel.records.v1+json"

// Retry pacing for the channel operations. Package-level so callers and
// tests can tune it.
var (
	RetryInitialInterval = 1 * time.Second
	RetryMaxInterval     = 10 * time.Second
	RetryMultiplier      = 2.0
)

// Channel is the stateful session binding a consumer group to a server-side
// consumer instance. At most one operation may be in flight per channel; the
// run loop is the serial driver. Multiple channels may run in parallel and
// may share one auth strategy.
type Channel struct {
	base string
	conf ChannelConfig

	auth auth.Authenticator
	hc   *http.Client
	l    *slog.Logger

	exec    *rest.Executor
	retrier *retry.Driver

	mu                     sync.Mutex
	consumerID             string
	activeSubscriptions    []string
	requestedSubscriptions []string
	commitLog              []offsetEntry

	active        bool
	running       bool
	stopRequested bool
	stopCh        chan struct{}
	stopWaiters   []chan struct{}
}

func NewChannel(base string, conf ChannelConfig, opts ...Option) (*Channel, error) {
	if base == "" {
		return nil, cerr.Permanent("base not defined")
	}
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	ch := &Channel{
		base:   strings.TrimRight(base, "/"),
		conf:   conf,
		l:      slog.Default(),
		active: true,
	}

	for _, opt := range opts {
		opt(ch)
	}

	if ch.hc == nil {
		tlsConf, err := conf.TLS.Parse()
		if err != nil {
			return nil, fmt.Errorf("parse TLS conf: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConf
		ch.hc = &http.Client{Transport: transport}
	}

	ch.exec = rest.New(ch.hc, ch.auth, ch.l)
	ch.retrier = retry.New(retry.Config{
		InitialInterval: RetryInitialInterval,
		MaxInterval:     RetryMaxInterval,
		Multiplier:      RetryMultiplier,
		RetryOnFail:     !conf.DisableRetryOnFail,
	}, ch.l)

	return ch, nil
}

// ConsumerID returns the server-side consumer instance id, or "" when the
// channel is idle.
func (ch *Channel) ConsumerID() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.consumerID
}

// Reset returns the channel to the idle state: no consumer id, no active
// subscriptions, no pending commits. Requested subscriptions survive so a
// running loop can rebuild the consumer.
func (ch *Channel) Reset() {
	ch.mu.Lock()
	ch.consumerID = ""
	ch.activeSubscriptions = nil
	ch.commitLog = nil
	ch.mu.Unlock()
}

// Create registers a fresh consumer instance for the configured group. Any
// previous local consumer state is discarded first.
func (ch *Channel) Create(ctx context.Context) error {
	return ch.retryDo(ctx, "create", ch.createOnce)
}

// Subscribe installs the topic set on the consumer, creating the consumer
// first when needed. Subscribing to the already-active set is a no-op that
// performs no requests.
func (ch *Channel) Subscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return cerr.Permanent("subscribe: no topics")
	}

	ch.mu.Lock()
	ch.requestedSubscriptions = slices.Clone(topics)
	ch.mu.Unlock()

	return ch.retryDo(ctx, "subscribe", func(ctx context.Context) error {
		return ch.subscribeOnce(ctx, topics)
	})
}

// Consume polls the consumer for records. Every returned record's offset is
// appended to the local commit log and its payload is base64-decoded.
func (ch *Channel) Consume(ctx context.Context) ([]Record, error) {
	var records []Record
	err := ch.retryDo(ctx, "consume", func(ctx context.Context) error {
		var err error
		records, err = ch.consumeOnce(ctx)
		return err
	})

	return records, err
}

// Commit acknowledges every pending offset to the server. An empty commit
// log completes immediately.
func (ch *Channel) Commit(ctx context.Context) error {
	return ch.retryDo(ctx, "commit", ch.commitOnce)
}

// Produce posts the caller's payload verbatim to the producer endpoint.
// Produce is never retried; the caller owns the resend decision.
func (ch *Channel) Produce(ctx context.Context, payload any) error {
	if !ch.isActive() {
		return cerr.Permanent("produce: channel destroyed")
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return cerr.Permanent("produce: marshal payload: %v", err)
	}

	_, err = ch.exec.Do(ctx, rest.Request{
		Op:          "produce",
		Method:      http.MethodPost,
		URL:         ch.base + ch.conf.ProducerPathPrefix + "/produce",
		Body:        body,
		ContentType: produceContentType,
	})

	return err
}

// Delete removes the server-side consumer instance. Local consumer state is
// cleared only once the response is classified: on success, and on a 404,
// which is still reported to the caller as a consumer-loss observation.
func (ch *Channel) Delete(ctx context.Context) error {
	if !ch.isActive() {
		return cerr.Permanent("delete: channel destroyed")
	}

	ch.mu.Lock()
	id := ch.consumerID
	ch.mu.Unlock()

	if id == "" {
		return nil
	}

	_, err := ch.exec.Do(ctx, rest.Request{
		Op:             "delete",
		Method:         http.MethodDelete,
		URL:            ch.consumerURL(id, ""),
		ConsumerScoped: true,
	})
	if err == nil || cerr.IsConsumerLoss(err) {
		ch.Reset()
	}

	return err
}

func (ch *Channel) createOnce(ctx context.Context) error {
	if ch.conf.ConsumerGroup == "" {
		return cerr.Permanent("create: consumer group not defined")
	}

	ch.Reset()

	body, err := sonic.Marshal(struct {
		ConsumerGroup string            `json:"consumerGroup"`
		Configs       map[string]string `json:"configs"`
	}{
		ConsumerGroup: ch.conf.ConsumerGroup,
		Configs:       ch.conf.consumerConfigs(),
	})
	if err != nil {
		return cerr.Permanent("create: marshal request: %v", err)
	}

	resp, err := ch.exec.Do(ctx, rest.Request{
		Op:          "create",
		Method:      http.MethodPost,
		URL:         ch.base + ch.conf.ConsumerPathPrefix + "/consumers",
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return err
	}

	var parsed struct {
		ConsumerInstanceID string `json:"consumerInstanceId"`
	}
	if err := sonic.Unmarshal(resp.Body, &parsed); err != nil {
		return cerr.Permanent("create: parse response: %v", err)
	}
	if parsed.ConsumerInstanceID == "" {
		return cerr.Permanent("create: response missing consumerInstanceId")
	}

	ch.mu.Lock()
	ch.consumerID = parsed.ConsumerInstanceID
	ch.mu.Unlock()

	ch.l.Debug("consumer created", "consumer_id", parsed.ConsumerInstanceID, "group", ch.conf.ConsumerGroup)

	return nil
}

func (ch *Channel) subscribeOnce(ctx context.Context, topics []string) error {
	ch.mu.Lock()
	id := ch.consumerID
	same := id != "" && slices.Equal(topics, ch.activeSubscriptions)
	ch.mu.Unlock()

	if same {
		return nil
	}

	if id == "" {
		if err := ch.createOnce(ctx); err != nil {
			return err
		}
		ch.mu.Lock()
		id = ch.consumerID
		ch.mu.Unlock()
	}

	body, err := sonic.Marshal(struct {
		Topics []string `json:"topics"`
	}{Topics: topics})
	if err != nil {
		return cerr.Permanent("subscribe: marshal request: %v", err)
	}

	_, err = ch.exec.Do(ctx, rest.Request{
		Op:             "subscribe",
		Method:         http.MethodPost,
		URL:            ch.consumerURL(id, "/subscription"),
		Body:           body,
		ContentType:    "application/json",
		ConsumerScoped: true,
	})
	if err != nil {
		return err
	}

	ch.mu.Lock()
	ch.activeSubscriptions = slices.Clone(topics)
	ch.mu.Unlock()

	ch.l.Debug("subscribed", "topics", topics)

	return nil
}

func (ch *Channel) consumeOnce(ctx context.Context) ([]Record, error) {
	ch.mu.Lock()
	id := ch.consumerID
	subscribed := len(ch.activeSubscriptions) > 0
	ch.mu.Unlock()

	if !subscribed {
		return nil, cerr.Permanent("consume: no active subscriptions")
	}

	resp, err := ch.exec.Do(ctx, rest.Request{
		Op:             "consume",
		Method:         http.MethodGet,
		URL:            ch.consumerURL(id, "/records"),
		ConsumerScoped: true,
	})
	if err != nil {
		return nil, err
	}

	var parsed consumerRecordsResponse
	if err := sonic.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, cerr.Temporary("consume: parse response: %v", err)
	}

	records := make([]Record, 0, len(parsed.Records))
	entries := make([]offsetEntry, 0, len(parsed.Records))
	for _, cr := range parsed.Records {
		rec, err := decodeRecord(cr)
		if err != nil {
			return nil, cerr.Permanent("consume: %v", err)
		}
		records = append(records, rec)
		entries = append(entries, offsetEntry{
			Topic:     cr.RoutingData.Topic,
			Partition: cr.Partition,
			Offset:    cr.Offset,
		})
	}

	ch.mu.Lock()
	ch.commitLog = append(ch.commitLog, entries...)
	ch.mu.Unlock()

	return records, nil
}

func (ch *Channel) commitOnce(ctx context.Context) error {
	ch.mu.Lock()
	pending := len(ch.commitLog)
	entries := slices.Clone(ch.commitLog)
	id := ch.consumerID
	ch.mu.Unlock()

	if pending == 0 {
		return nil
	}

	body, err := sonic.Marshal(commitRequest{Offsets: entries})
	if err != nil {
		return cerr.Permanent("commit: marshal request: %v", err)
	}

	_, err = ch.exec.Do(ctx, rest.Request{
		Op:             "commit",
		Method:         http.MethodPost,
		URL:            ch.consumerURL(id, "/offsets"),
		Body:           body,
		ContentType:    "application/json",
		ConsumerScoped: true,
	})
	if err != nil {
		return err
	}

	ch.mu.Lock()
	ch.commitLog = ch.commitLog[pending:]
	ch.mu.Unlock()

	return nil
}

func (ch *Channel) consumerURL(id, suffix string) string {
	return ch.base + ch.conf.ConsumerPathPrefix + "/consumers/" + url.PathEscape(id) + suffix
}

func (ch *Channel) retryDo(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !ch.isActive() {
		return cerr.Permanent("%s: channel destroyed", op)
	}

	return ch.retrier.Do(ctx, op, retry.Checks{
		Active:        ch.isActive,
		StopRequested: ch.stopObserved,
	}, fn)
}

func (ch *Channel) isActive() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.active
}

func (ch *Channel) stopObserved() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.running && ch.stopRequested
}
