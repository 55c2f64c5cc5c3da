package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/repository"
)

// Join enters the session behind code. A student record with the same
// display name (case-insensitive) is taken over instead of creating a second
// one, which is how a student resumes from a device that lost its identity.
//
// If the record is written but the subscription cannot be opened, the
// client stays joined with ConnectionError set and Reconnect completes it.
func (c *Client) Join(ctx context.Context, code, displayName, school string) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	displayName = strings.TrimSpace(displayName)
	school = strings.TrimSpace(school)
	if code == "" {
		return fmt.Errorf("%w: session code is required", ErrValidation)
	}
	if displayName == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}

	c.toJoin(nil)
	identity := c.ensureIdentity(ctx, displayName)

	if p, err := c.pointer.Load(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to read session pointer")
	} else if p != nil && !strings.EqualFold(p.JoinCode, code) {
		c.clearPointer(ctx)
	}

	err := c.join(ctx, code, displayName, school, identity)
	if err != nil {
		c.mu.Lock()
		c.connErr = err
		c.mu.Unlock()
		c.notify()
	}
	return err
}

func (c *Client) join(ctx context.Context, code, displayName, school string, identity *model.StudentIdentity) error {
	sessionID, err := c.sessions.ResolveCode(ctx, code)
	if errors.Is(err, repository.ErrCodeNotFound) {
		return fmt.Errorf("%w: %s", ErrInvalidCode, code)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}

	rec, err := c.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return fmt.Errorf("%w: %s", ErrInvalidCode, code)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	if !rec.IsActive {
		return fmt.Errorf("%w: %s", ErrSessionEnded, code)
	}

	now := c.nowMs()
	c.mu.Lock()
	focused := c.focused
	c.mu.Unlock()

	studentID, existing := pickStudent(rec, identity.ID, displayName)
	fields := map[string]any{
		"displayName": displayName,
		"isOnline":    true,
		"isFocused":   focused,
		"lastSeenAt":  now,
		"deviceId":    identity.ID,
	}
	if school != "" {
		fields["school"] = school
	}
	if existing == nil {
		studentID = identity.ID
		fields["joinedAt"] = now
		fields["currentSlideIndex"] = rec.CurrentSlideIndex
		fields["sessionStartedAt"] = now
		fields["totalTimeMs"] = 0
		existing = &model.StudentSessionState{
			DisplayName:       displayName,
			School:            school,
			JoinedAt:          now,
			CurrentSlideIndex: rec.CurrentSlideIndex,
			SessionStartedAt:  now,
		}
	}

	err = c.retry.Do(ctx, func(ctx context.Context) error {
		return c.sessions.UpdateStudent(ctx, sessionID, studentID, fields)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}

	c.savePointer(ctx, &model.SessionPointer{
		SessionID:          sessionID,
		JoinCode:           code,
		StudentID:          studentID,
		StudentDisplayName: displayName,
		JoinedAt:           time.UnixMilli(now),
	})

	c.log.Info().Str("session_id", sessionID).Str("student_id", studentID).Msg("Joined session")
	return c.enter(ctx, rec, code, studentID, displayName, existing)
}

// pickStudent finds the record to reuse: this device's own record first,
// then the earliest-joined record with the same display name.
func pickStudent(rec *model.SessionRecord, deviceID, displayName string) (string, *model.StudentSessionState) {
	if st := rec.Student(deviceID); st != nil {
		return deviceID, st
	}

	var ids []string
	for id, st := range rec.Students {
		if st != nil && strings.EqualFold(strings.TrimSpace(st.DisplayName), displayName) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", nil
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := rec.Students[ids[i]], rec.Students[ids[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return ids[i] < ids[j]
	})
	return ids[0], rec.Students[ids[0]]
}

// ResumeOutcome tells the caller which screen a silent reconnect leads to.
type ResumeOutcome int

const (
	// ResumeNeedsJoin: show the join form.
	ResumeNeedsJoin ResumeOutcome = iota
	// ResumeResumed: back in the live session.
	ResumeResumed
	// ResumeEnded: show the terminal "session ended" view.
	ResumeEnded
)

// ResumeOnLoad tries to silently rejoin the session recorded in the
// pointer. urlCode is a code the user arrived with, if any; when it differs
// from the pointer's code the pointer is dropped and an explicit join is
// required. A connectivity failure keeps the pointer so the caller can
// retry.
func (c *Client) ResumeOnLoad(ctx context.Context, urlCode string) (ResumeOutcome, error) {
	if c.isClosed() {
		return ResumeNeedsJoin, ErrClientClosed
	}
	p, err := c.pointer.Load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read session pointer")
		return ResumeNeedsJoin, nil
	}
	if p == nil {
		return ResumeNeedsJoin, nil
	}
	urlCode = strings.TrimSpace(urlCode)
	if urlCode != "" && !strings.EqualFold(urlCode, p.JoinCode) {
		c.clearPointer(ctx)
		return ResumeNeedsJoin, nil
	}

	c.toJoin(nil)
	c.mu.Lock()
	c.phase = PhaseReconnecting
	c.mu.Unlock()
	c.notify()

	rec, err := c.sessions.GetSession(ctx, p.SessionID)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		c.clearPointer(ctx)
		c.toJoin(nil)
		return ResumeNeedsJoin, nil
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrConnectivity, err)
		c.toJoin(err)
		return ResumeNeedsJoin, err
	}

	st := rec.Student(p.StudentID)
	if !rec.IsActive {
		c.clearPointer(ctx)
		c.mu.Lock()
		c.phase = PhaseEnded
		c.session = rec
		c.sessionID = rec.ID
		c.joinCode = p.JoinCode
		c.studentID = p.StudentID
		c.displayName = p.StudentDisplayName
		if st != nil {
			c.responses = st.Responses.Clone()
			c.localSlide = st.CurrentSlideIndex
		}
		c.effective = -1
		c.syncSlidesLocked(rec)
		c.mu.Unlock()
		c.notify()
		return ResumeEnded, nil
	}
	if st == nil {
		c.clearPointer(ctx)
		c.toJoin(nil)
		return ResumeNeedsJoin, nil
	}

	c.log.Info().Str("session_id", rec.ID).Str("student_id", p.StudentID).Msg("Resuming session")
	if err := c.enter(ctx, rec, p.JoinCode, p.StudentID, st.DisplayName, st); err != nil {
		if c.State().IsJoined {
			return ResumeResumed, err
		}
		return ResumeNeedsJoin, err
	}
	return ResumeResumed, nil
}

// Reconnect re-asserts presence after a connectivity error and restores
// the subscription and heartbeat if either is missing. Presence writes only
// touch an existing record, so a record purged server-side ends the
// membership with ErrStaleSession instead of being recreated.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if !c.joinedLocked() {
		c.mu.Unlock()
		return ErrNotJoined
	}
	sessionID, studentID, focused := c.sessionID, c.studentID, c.focused
	needsSub := c.unsub == nil
	needsBeat := c.hbStop == nil
	c.mu.Unlock()

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.sessions.TouchStudent(ctx, sessionID, studentID, map[string]any{
			"isOnline":   true,
			"isFocused":  focused,
			"lastSeenAt": c.nowMs(),
		})
	})
	if c.dropIfGone(sessionID, studentID, err) {
		return ErrStaleSession
	}
	if err == nil && needsSub {
		err = c.subscribe(ctx, sessionID)
	}
	if err == nil && needsBeat {
		c.startHeartbeat(sessionID, studentID)
	}

	c.mu.Lock()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectivity, err)
		c.connErr = err
	} else if errors.Is(c.connErr, ErrConnectivity) {
		c.connErr = nil
	}
	c.mu.Unlock()
	c.notify()
	return err
}

// enter adopts st as the local state, then subscribes and starts the
// heartbeat.
func (c *Client) enter(ctx context.Context, rec *model.SessionRecord, code, studentID, displayName string, st *model.StudentSessionState) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.sessionID = rec.ID
	c.joinCode = code
	c.studentID = studentID
	c.displayName = displayName
	c.session = rec
	c.responses = st.Responses.Clone()
	c.sessionStartedAt = st.SessionStartedAt
	if c.sessionStartedAt == 0 {
		c.sessionStartedAt = st.JoinedAt
	}
	c.localSlide = st.CurrentSlideIndex
	c.phase = PhaseActive
	if rec.IsPaused {
		c.phase = PhasePaused
	}
	c.connErr = nil
	c.effective = -1
	c.syncSlidesLocked(rec)
	c.mu.Unlock()
	c.notify()

	if err := c.subscribe(ctx, rec.ID); err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectivity, err)
		c.mu.Lock()
		c.connErr = err
		c.mu.Unlock()
		c.notify()
		return err
	}
	c.startHeartbeat(rec.ID, studentID)
	return nil
}

func (c *Client) subscribe(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	unsub, err := c.sessions.Subscribe(ctx, sessionID, func(rec *model.SessionRecord, err error) {
		c.onSnapshot(gen, rec, err)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.closed || !c.joinedLocked() {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsub = unsub
	c.mu.Unlock()
	return nil
}

// detachLocked stops the heartbeat and invalidates pending snapshot
// callbacks. The returned unsubscribe func must be called without the lock.
func (c *Client) detachLocked() func() {
	c.gen++
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	unsub := c.unsub
	c.unsub = nil
	return unsub
}

// toJoin resets to the join screen, keeping the identity.
func (c *Client) toJoin(cause error) {
	c.mu.Lock()
	unsub := c.detachLocked()
	c.phase = PhaseJoin
	c.session = nil
	c.sessionID, c.joinCode, c.studentID = "", "", ""
	c.responses = nil
	c.resetSlideLocked()
	c.connErr = cause
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.notify()
}

func (c *Client) ensureIdentity(ctx context.Context, displayName string) *model.StudentIdentity {
	id, err := c.identity.Load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read identity")
	}
	if id == nil {
		id = &model.StudentIdentity{ID: c.newID(), CreatedAt: c.now()}
	}
	id.DisplayName = displayName
	if err := c.identity.Save(ctx, id); err != nil {
		c.log.Warn().Err(err).Msg("Failed to save identity")
	}
	return id
}

func (c *Client) savePointer(ctx context.Context, p *model.SessionPointer) {
	if err := c.pointer.Save(ctx, p); err != nil {
		c.log.Warn().Err(err).Msg("Failed to save session pointer")
	}
}

func (c *Client) clearPointer(ctx context.Context) {
	if err := c.pointer.Clear(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to clear session pointer")
	}
}
