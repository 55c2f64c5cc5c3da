package live

import (
	"context"

	"github.com/stemsi/liveclass/internal/model"
)

func (c *Client) currentSlideLocked() (model.Slide, bool) {
	if c.session == nil {
		return model.Slide{}, false
	}
	slides := c.session.Quiz.Slides
	if c.effective < 0 || c.effective >= len(slides) {
		return model.Slide{}, false
	}
	return slides[c.effective], true
}

func (c *Client) answeredCurrentLocked() bool {
	slide, ok := c.currentSlideLocked()
	if !ok {
		return false
	}
	_, answered := c.responses.Find(slide.ID)
	return answered
}

func (c *Client) canNavigateLocked() bool {
	if c.phase != PhaseActive || c.session == nil || c.session.IsLocked {
		return false
	}
	slide, ok := c.currentSlideLocked()
	if !ok {
		return false
	}
	return !slide.RequiresAnswer() || c.answeredCurrentLocked()
}

// syncSlidesLocked applies the slide rule for a record: while locked the
// local index follows the teacher's pointer. Any change of the effective
// index resets the per-slide answer state.
func (c *Client) syncSlidesLocked(rec *model.SessionRecord) {
	last := len(rec.Quiz.Slides) - 1
	if rec.IsLocked {
		target := clamp(rec.CurrentSlideIndex, last)
		if c.effective >= 0 && target != c.effective {
			c.transition++
		}
		c.localSlide = target
	}
	c.localSlide = clamp(c.localSlide, last)

	if c.localSlide != c.effective {
		c.effective = c.localSlide
		c.resetSlideLocked()
	}
}

func clamp(i, last int) int {
	if i > last {
		i = last
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (c *Client) resetSlideLocked() {
	c.selected = nil
	c.text = ""
	c.showResult = false
	c.saveWarning = false
	c.slideStartedAt = c.now()
}

// NextSlide moves forward when the session is unlocked.
func (c *Client) NextSlide(ctx context.Context) error {
	return c.move(ctx, 1)
}

// PrevSlide moves back when the session is unlocked.
func (c *Client) PrevSlide(ctx context.Context) error {
	return c.move(ctx, -1)
}

func (c *Client) move(ctx context.Context, delta int) error {
	c.mu.Lock()
	switch {
	case !c.joinedLocked():
		c.mu.Unlock()
		return ErrNotJoined
	case c.phase == PhasePaused:
		c.mu.Unlock()
		return ErrSessionPaused
	case c.session.IsLocked:
		c.mu.Unlock()
		return ErrNavigationBlocked
	}
	if slide, ok := c.currentSlideLocked(); ok && slide.RequiresAnswer() && !c.answeredCurrentLocked() {
		c.wiggle++
		c.mu.Unlock()
		c.notify()
		return ErrNavigationBlocked
	}

	target := c.localSlide + delta
	if target < 0 || target >= len(c.session.Quiz.Slides) {
		c.mu.Unlock()
		return nil
	}
	c.localSlide = target
	c.syncSlidesLocked(c.session)
	sessionID, studentID := c.sessionID, c.studentID
	c.mu.Unlock()
	c.notify()

	// Position pings feed teacher dashboards only; no retry.
	err := c.sessions.TouchStudent(ctx, sessionID, studentID, map[string]any{
		"currentSlideIndex": target,
		"lastSeenAt":        c.nowMs(),
	})
	if c.dropIfGone(sessionID, studentID, err) {
		return ErrStaleSession
	}
	if err != nil {
		c.log.Debug().Err(err).Int("slide", target).Msg("Slide position update failed")
	}
	return nil
}
