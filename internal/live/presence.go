package live

import (
	"context"
	"time"
)

const presenceWriteTimeout = 10 * time.Second

// startHeartbeat writes {isOnline, lastSeenAt} before returning and then on
// every tick until the membership ends. Heartbeats are best-effort.
func (c *Client) startHeartbeat(sessionID, studentID string) {
	stop := make(chan struct{})
	c.mu.Lock()
	if c.closed || !c.joinedLocked() || c.sessionID != sessionID {
		c.mu.Unlock()
		return
	}
	if c.hbStop != nil {
		close(c.hbStop)
	}
	c.hbStop = stop
	c.mu.Unlock()

	beat := func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		defer cancel()
		err := c.sessions.TouchStudent(ctx, sessionID, studentID, map[string]any{
			"isOnline":   true,
			"lastSeenAt": c.nowMs(),
		})
		if err != nil && !c.dropIfGone(sessionID, studentID, err) {
			c.log.Debug().Err(err).Msg("Heartbeat failed")
		}
	}

	beat()
	go func() {
		t := time.NewTicker(c.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				beat()
			}
		}
	}()
}

// SetFocused records a visibility change and, when joined, writes it right
// away rather than waiting for the next heartbeat.
func (c *Client) SetFocused(ctx context.Context, focused bool) {
	c.mu.Lock()
	c.focused = focused
	joined := c.joinedLocked()
	sessionID, studentID := c.sessionID, c.studentID
	c.mu.Unlock()
	c.notify()

	if !joined {
		return
	}
	err := c.sessions.TouchStudent(ctx, sessionID, studentID, map[string]any{
		"isFocused":  focused,
		"lastSeenAt": c.nowMs(),
	})
	if err != nil && !c.dropIfGone(sessionID, studentID, err) {
		c.log.Debug().Err(err).Bool("focused", focused).Msg("Focus update failed")
	}
}

// SetNetworkOnline toggles the local connectivity flag. Coming back online
// runs the manual reconnect.
func (c *Client) SetNetworkOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	joined := c.joinedLocked()
	c.mu.Unlock()
	c.notify()

	if online && !was && joined {
		if err := c.Reconnect(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Reconnect after network recovery failed")
		}
	}
}

// Close ends the client: timers stop, the subscription closes, and a
// single {isOnline:false} write is fired without waiting for it. That write
// may be lost if the process exits first. A closed client refuses to join
// again.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	joined := c.joinedLocked()
	sessionID, studentID := c.sessionID, c.studentID
	unsub := c.detachLocked()
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if !joined {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		defer cancel()
		_ = c.sessions.TouchStudent(ctx, sessionID, studentID, map[string]any{
			"isOnline":   false,
			"lastSeenAt": c.nowMs(),
		})
	}()
}
