package live

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/repository"
)

// SelectOption picks an option on a choice slide. On multiple-choice slides
// it toggles.
func (c *Client) SelectOption(optionID string) error {
	c.mu.Lock()
	defer c.notify()
	defer c.mu.Unlock()

	slide, ok := c.currentSlideLocked()
	if !ok || !c.joinedLocked() {
		return ErrNotJoined
	}
	if !slide.HasOption(optionID) {
		return fmt.Errorf("%w: unknown option %q", ErrValidation, optionID)
	}

	switch slide.Type {
	case model.ActivitySingleChoice:
		c.selected = []string{optionID}
	case model.ActivityMultipleChoice:
		if i := slices.Index(c.selected, optionID); i >= 0 {
			c.selected = slices.Delete(c.selected, i, i+1)
		} else {
			c.selected = append(c.selected, optionID)
		}
	default:
		return fmt.Errorf("%w: slide %q has no options", ErrValidation, slide.ID)
	}
	return nil
}

// SetTextAnswer sets the free-text draft of the current slide.
func (c *Client) SetTextAnswer(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
	c.notify()
}

// SubmitAnswer records the answer to the current slide. Submitting a slide
// that already has a response only reveals the stored result. The response
// is kept locally even when saving it fails; SaveWarning is raised and the
// error returned.
func (c *Client) SubmitAnswer(ctx context.Context) error {
	c.mu.Lock()
	if !c.joinedLocked() {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if c.phase == PhasePaused {
		c.mu.Unlock()
		return ErrSessionPaused
	}
	slide, ok := c.currentSlideLocked()
	if !ok || !slide.RequiresAnswer() {
		c.mu.Unlock()
		return nil
	}
	if _, done := c.responses.Find(slide.ID); done {
		c.showResult = true
		c.mu.Unlock()
		c.notify()
		return nil
	}

	answer, err := c.draftLocked(slide)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	now := c.now()
	resp := model.SlideResponse{
		SlideID:          slide.ID,
		ActivityType:     slide.Type,
		Answer:           answer,
		AnsweredAt:       now.UnixMilli(),
		TimeSpentSeconds: int(now.Sub(c.slideStartedAt).Seconds()),
	}
	if n := len(c.responses); n > 0 && resp.AnsweredAt <= c.responses[n-1].AnsweredAt {
		resp.AnsweredAt = c.responses[n-1].AnsweredAt + 1
	}
	if c.session.Settings.ImmediateFeedback {
		if correct, gradable := c.grader.Grade(slide, answer); gradable {
			resp.IsCorrect = &correct
			if correct {
				resp.Points = slide.Points
			}
		}
	}

	c.responses = append(c.responses, resp)
	c.showResult = true
	c.saveWarning = false
	total := now.UnixMilli() - c.sessionStartedAt
	sessionID, studentID := c.sessionID, c.studentID
	c.mu.Unlock()
	c.notify()

	err = c.retry.Do(ctx, func(ctx context.Context) error {
		return c.sessions.PutResponse(ctx, sessionID, studentID, resp, total)
	})
	if err == nil {
		return nil
	}
	if c.dropIfGone(sessionID, studentID, err) {
		return ErrStaleSession
	}

	c.log.Warn().Err(err).Str("slide_id", slide.ID).Msg("Response may not have been saved")
	c.mu.Lock()
	if c.sessionID == sessionID && c.studentID == studentID && c.effective >= 0 {
		if cur, ok := c.currentSlideLocked(); ok && cur.ID == slide.ID {
			c.saveWarning = true
		}
	}
	c.mu.Unlock()
	c.notify()
	return fmt.Errorf("%w: %w", ErrConnectivity, err)
}

func (c *Client) draftLocked(slide model.Slide) (model.Answer, error) {
	switch slide.Type {
	case model.ActivitySingleChoice:
		if len(c.selected) == 0 {
			return nil, fmt.Errorf("%w: choose an option", ErrValidation)
		}
		return model.ChoiceAnswer(c.selected[len(c.selected)-1]), nil
	case model.ActivityMultipleChoice:
		if len(c.selected) == 0 {
			return nil, fmt.Errorf("%w: choose at least one option", ErrValidation)
		}
		ids := slices.Clone(c.selected)
		slices.Sort(ids)
		return model.MultiChoiceAnswer(ids), nil
	case model.ActivityOpenText:
		text := strings.TrimSpace(c.text)
		if text == "" {
			return nil, fmt.Errorf("%w: type an answer", ErrValidation)
		}
		return model.TextAnswer(text), nil
	default:
		return nil, fmt.Errorf("%w: cannot answer %q slides here", ErrValidation, slide.Type)
	}
}

// reconcile merges the server's view of this student's responses into the
// local one. The server list wins when it knows a response the client does
// not, or when a shared response carries a different evaluation. Local
// responses the server has not echoed yet are always kept.
func reconcile(local, server model.ResponseList) (model.ResponseList, bool) {
	adopt := len(server) > len(local)
	for _, s := range server {
		if adopt {
			break
		}
		l, ok := local.Find(s.SlideID)
		if !ok || !l.SameEvaluation(s) {
			adopt = true
		}
	}
	if !adopt {
		return local, false
	}

	merged := server.Clone()
	for _, l := range local {
		if _, ok := merged.Find(l.SlideID); !ok {
			merged = append(merged, l)
		}
	}
	merged.Sort()
	return merged, true
}

// onSnapshot applies one remote record delivered by the subscription.
func (c *Client) onSnapshot(gen uint64, rec *model.SessionRecord, err error) {
	if err != nil {
		c.mu.Lock()
		current := gen == c.gen && c.joinedLocked()
		c.mu.Unlock()
		if !current {
			return
		}
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.log.Warn().Msg("Session disappeared")
			c.stale()
			return
		}
		c.log.Warn().Err(err).Msg("Ignoring undecodable session snapshot")
		return
	}

	c.mu.Lock()
	if gen != c.gen || !c.joinedLocked() {
		c.mu.Unlock()
		return
	}
	st := rec.Student(c.studentID)
	if st == nil {
		c.mu.Unlock()
		c.log.Warn().Str("session_id", rec.ID).Msg("Own student record disappeared")
		c.stale()
		return
	}

	c.session = rec
	if merged, changed := reconcile(c.responses, st.Responses); changed {
		c.responses = merged
	}
	if errors.Is(c.connErr, ErrConnectivity) {
		c.connErr = nil
	}

	var unsub func()
	switch {
	case !rec.IsActive:
		c.phase = PhaseEnded
		unsub = c.detachLocked()
	case rec.IsPaused:
		c.phase = PhasePaused
	default:
		c.phase = PhaseActive
	}
	c.syncSlidesLocked(rec)
	ended := c.phase == PhaseEnded
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if ended {
		c.log.Info().Str("session_id", rec.ID).Msg("Session ended")
		c.clearPointer(context.Background())
	}
	c.notify()
}

// stale handles a session or student record that vanished server-side.
func (c *Client) stale() {
	c.clearPointer(context.Background())
	c.toJoin(ErrStaleSession)
}

// dropIfGone reports whether err says this student's record is gone, and
// if the membership it was written for is still the current one, ends it.
func (c *Client) dropIfGone(sessionID, studentID string, err error) bool {
	if !errors.Is(err, repository.ErrStudentNotFound) {
		return false
	}
	c.mu.Lock()
	current := c.joinedLocked() && c.sessionID == sessionID && c.studentID == studentID
	c.mu.Unlock()
	if current {
		c.log.Warn().Str("session_id", sessionID).Msg("Own student record disappeared")
		c.stale()
	}
	return true
}
