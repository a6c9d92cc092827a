/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/pathfeed/internal/feed"
)

// StartPublish starts draining the loaded grid on the publish worker and
// returns immediately. Completion is announced on the event bus. A second
// request while one is running, or a request while a read is loading, fails
// with feed.ErrBusy.
func (h *Handler) StartPublish() (err error) {
	defer func() { h.record("start_publish", err) }()

	if err := h.checkLeader(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done != nil {
		return fmt.Errorf("start publish: %w", feed.ErrBusy)
	}
	if err := h.baseCtx.Err(); err != nil {
		return fmt.Errorf("start publish: %w", err)
	}
	grid, pathID, err := h.claimLocked()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(h.baseCtx)
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	go func() {
		defer close(done)
		defer cancel()

		_, err := h.runPublish(ctx, grid, pathID)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Error().Err(err).Msg("background publish failed")
		}

		h.mu.Lock()
		h.cancel = nil
		h.done = nil
		h.mu.Unlock()
	}()

	return nil
}

// Publishing reports whether the publish worker is busy.
func (h *Handler) Publishing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done != nil
}

// cancelPublish stops the running publish, if any, and waits for it to exit.
func (h *Handler) cancelPublish() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	if done == nil {
		return
	}
	h.logger.Warn().Msg("aborting running publish")
	cancel()
	<-done
}

// Close aborts any running publish and refuses new ones.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.stop()
	h.mu.Unlock()

	h.cancelPublish()
	return nil
}
