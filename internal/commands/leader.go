/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package commands

import "context"

// WatchLeadership aborts the running publish whenever leadership is lost, so
// a demoted instance stops driving the consumer. It returns when ctx is done
// or changes is closed.
func (h *Handler) WatchLeadership(ctx context.Context, changes <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case isLeader, ok := <-changes:
			if !ok {
				return
			}
			if isLeader {
				h.logger.Info().Msg("became active publisher")
				continue
			}
			h.logger.Warn().Msg("lost leadership, stopping publish")
			h.cancelPublish()
		}
	}
}
