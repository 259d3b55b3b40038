// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Polling reports whether the polling loop is running
func (c *Client) Polling() bool {
	return c.polling.Load()
}

// StartPolling starts the polling loop if it is not already running.
// Polls are spaced by the configured interval measured from the start of
// the previous poll, so a slow round trip shortens the wait to zero.
func (c *Client) StartPolling() {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			// Halted on an error nobody collected
			c.pollCancel()
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pollCancel = cancel
	c.pollDone = done
	c.pollErr = nil
	c.polling.Store(true)

	go c.pollLoop(ctx, done)
}

// StopPolling stops the loop and waits for the in-flight poll to finish.
// It returns the error that halted the loop, if any.
func (c *Client) StopPolling() error {
	c.pollMu.Lock()
	cancel, done := c.pollCancel, c.pollDone
	c.pollMu.Unlock()
	if done == nil {
		return nil
	}

	c.polling.Store(false)
	cancel()
	<-done
	return c.finishPolling(done)
}

// WaitPolling blocks until the loop ends on its own or ctx is done, and
// returns the error that halted it
func (c *Client) WaitPolling(ctx context.Context) error {
	c.pollMu.Lock()
	done := c.pollDone
	c.pollMu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return c.finishPolling(done)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finishPolling clears the loop handles once and returns its error
func (c *Client) finishPolling(done chan struct{}) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	err := c.pollErr
	if c.pollDone == done {
		c.pollCancel()
		c.pollCancel = nil
		c.pollDone = nil
	}
	return err
}

func (c *Client) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	command := CmdPoll
	if c.cfg.PollWithAck {
		command = CmdPollWithAck
	}
	limiter := rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1)
	logger := c.log.WithField("command", command)

	for c.polling.Load() {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if !c.polling.Load() {
			return
		}

		result, err := c.Command(context.Background(), command, nil)
		if errors.Is(err, ErrAlreadyProcessing) {
			logger.Trace("command in flight, skipping poll")
			continue
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		if err != nil {
			c.haltPolling(err)
			return
		}

		for i := range result.Events {
			ev := result.Events[i]
			logger.WithFields(logrus.Fields{
				"event": ev.Name,
				"info":  ev.Info,
			}).Debug("poll event")
			c.events.Publish(Event{Kind: EventStatus, Name: ev.Name, Poll: &ev})
		}

		if c.cfg.PollWithAck && len(result.Events) > 0 {
			if _, err := c.Command(context.Background(), CmdEventAck, nil); err != nil {
				c.haltPolling(err)
				return
			}
		}
	}
}

func (c *Client) haltPolling(err error) {
	c.log.WithError(err).Error("polling stopped")
	c.polling.Store(false)
	c.pollMu.Lock()
	c.pollErr = err
	c.pollMu.Unlock()
	c.events.Publish(Event{Kind: EventError, Err: err})
}
