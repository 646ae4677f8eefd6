package client

import (
	"context"
	"slices"
	"time"

	"github.com/opendxl/opendxl-streaming-client-go/cerr"
)

// ProcessFunc handles one batch of consumed records. Returning false stops
// the loop after the pending offsets are committed. A returned error exits
// the loop and surfaces through Run.
type ProcessFunc func(ctx context.Context, records []Record) (bool, error)

type RunConfig struct {
	// Topics to subscribe when entering the loop. May be empty if the
	// channel already holds an active subscription.
	Topics []string

	// WaitBetweenQueries is the pause between consume cycles.
	WaitBetweenQueries time.Duration
}

func (c *RunConfig) SetDefaults() {
	if c.WaitBetweenQueries == 0 {
		c.WaitBetweenQueries = 30 * time.Second
	}
}

// Run drives the consume loop: subscribe, consume, process, commit, wait.
// It blocks until the process callback returns false, an unrecoverable error
// occurs, the context is canceled, or Stop is called. A stop exit is a clean
// one: Run returns nil.
//
// Consumer loss at any phase resets local state and rebuilds the consumer
// with the latest requested topics. Offsets not yet committed at that point
// are gone; the configured offset reset policy governs what the fresh
// consumer sees.
func (ch *Channel) Run(ctx context.Context, process ProcessFunc, conf RunConfig) error {
	if process == nil {
		return cerr.Permanent("run: process callback not defined")
	}
	if ch.conf.ConsumerGroup == "" {
		return cerr.Permanent("run: consumer group not defined")
	}

	conf.SetDefaults()

	ch.mu.Lock()
	if !ch.active {
		ch.mu.Unlock()
		return cerr.Permanent("run: channel destroyed")
	}
	if ch.running {
		ch.mu.Unlock()
		return cerr.Permanent("run: already running")
	}
	if len(conf.Topics) > 0 {
		ch.requestedSubscriptions = slices.Clone(conf.Topics)
	} else if len(ch.activeSubscriptions) > 0 {
		ch.requestedSubscriptions = slices.Clone(ch.activeSubscriptions)
	} else {
		ch.mu.Unlock()
		return cerr.Permanent("run: no topics to subscribe")
	}
	ch.running = true
	ch.stopRequested = false
	ch.stopCh = make(chan struct{})
	stopCh := ch.stopCh
	ch.mu.Unlock()

	ch.l.Info("run loop started", "group", ch.conf.ConsumerGroup)

	err := ch.runLoop(ctx, process, conf, stopCh)

	ch.mu.Lock()
	ch.running = false
	ch.stopRequested = false
	waiters := ch.stopWaiters
	ch.stopWaiters = nil
	ch.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	if err != nil && cerr.IsStop(err) {
		err = nil
	}
	if err != nil {
		ch.l.Error("run loop exited", "err", err)
	} else {
		ch.l.Info("run loop stopped")
	}

	return err
}

func (ch *Channel) runLoop(ctx context.Context, process ProcessFunc, conf RunConfig, stopCh chan struct{}) error {
subscribe:
	for {
		// Refresh from the latest requested set so external subscribe
		// updates take effect on every rebuild.
		ch.mu.Lock()
		topics := slices.Clone(ch.requestedSubscriptions)
		ch.mu.Unlock()

		if err := ch.retryDo(ctx, "subscribe", func(ctx context.Context) error {
			return ch.subscribeOnce(ctx, topics)
		}); err != nil {
			if cerr.IsConsumerLoss(err) {
				ch.l.Warn("consumer lost during subscribe, recreating")
				ch.Reset()
				continue subscribe
			}
			return err
		}

		for {
			records, err := ch.Consume(ctx)
			if err != nil {
				if cerr.IsConsumerLoss(err) {
					ch.l.Warn("consumer lost during consume, recreating")
					ch.Reset()
					continue subscribe
				}
				return err
			}

			cont, err := safeProcess(ctx, process, records)
			if err != nil {
				return err
			}

			if ch.stopObserved() {
				cont = false
			}

			if err := ch.Commit(ctx); err != nil {
				if cerr.IsConsumerLoss(err) {
					ch.l.Warn("consumer lost during commit, recreating")
					ch.Reset()
					continue subscribe
				}
				return err
			}

			if !cont {
				return nil
			}

			select {
			case <-time.After(conf.WaitBetweenQueries):
			case <-stopCh:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func safeProcess(ctx context.Context, process ProcessFunc, records []Record) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			cont = false
			err = cerr.Permanent("process callback panic: %v", r)
		}
	}()

	return process(ctx, records)
}

// Stop requests a cooperative stop and waits until the run loop halts. The
// request is observed at retry attempt boundaries and during waits; a stop
// mid-wait cancels the wait immediately. If no loop is running, Stop returns
// right away.
func (ch *Channel) Stop(ctx context.Context) error {
	ch.mu.Lock()
	if !ch.running {
		ch.mu.Unlock()
		return nil
	}
	if !ch.stopRequested {
		ch.stopRequested = true
		close(ch.stopCh)
	}
	w := make(chan struct{})
	ch.stopWaiters = append(ch.stopWaiters, w)
	ch.mu.Unlock()

	ch.l.Debug("stop requested")

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy stops the run loop, deletes the server-side consumer and
// deactivates the channel. Every operation invoked afterwards fails with a
// permanent error. Destroying an already-destroyed channel is a no-op.
func (ch *Channel) Destroy(ctx context.Context) error {
	ch.mu.Lock()
	if !ch.active {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	if err := ch.Stop(ctx); err != nil {
		return err
	}

	err := ch.Delete(ctx)

	ch.mu.Lock()
	ch.active = false
	ch.mu.Unlock()

	return err
}
