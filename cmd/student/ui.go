package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/live"
	"github.com/stemsi/liveclass/internal/model"
)

const helpText = `Commands:
  join <code> <name> [/ <school>]   join a session
  n, next | p, prev                 move between slides
  1..9                              pick (or toggle) an option
  a <text>                          type a free-text answer
  s, submit                         submit the current answer
  away | back                       mark the window unfocused / focused
  retry                             reconnect after a connection problem
  q, quit                           leave
`

// UI maps typed commands onto the live client and redraws on every change.
type UI struct {
	client *live.Client
	out    io.Writer
	log    zerolog.Logger
}

// Resume silently rejoins the last session, if any. Otherwise, when both a
// code and a name were given up front, it joins with them.
func (u *UI) Resume(ctx context.Context, code, name, school string) {
	outcome, err := u.client.ResumeOnLoad(ctx, code)
	if err != nil {
		u.say("Could not reach the class server. Type 'retry' or join again.")
		return
	}
	if outcome != live.ResumeNeedsJoin || code == "" {
		return
	}
	if name == "" {
		u.say(fmt.Sprintf("Type: join %s <your name>", strings.ToUpper(code)))
		return
	}
	if err := u.client.Join(ctx, code, name, school); err != nil {
		u.say(describeError(err))
	}
}

// Render redraws the screen whenever the client reports a change.
func (u *UI) Render(ctx context.Context) {
	u.say(render(u.client.State()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.client.Changes():
			u.say(render(u.client.State()))
		}
	}
}

// Exec runs one command line. It returns false when the user quits.
func (u *UI) Exec(ctx context.Context, line string) bool {
	cmd, arg := parseCommand(line)
	var err error

	switch cmd {
	case "":
		return true
	case "q", "quit", "exit":
		return false
	case "help", "?":
		u.say(helpText)
	case "join":
		code, name, school := parseJoin(arg)
		err = u.client.Join(ctx, code, name, school)
	case "n", "next":
		err = u.client.NextSlide(ctx)
	case "p", "prev":
		err = u.client.PrevSlide(ctx)
	case "a", "answer":
		u.client.SetTextAnswer(arg)
	case "s", "submit":
		err = u.client.SubmitAnswer(ctx)
	case "away":
		u.client.SetFocused(ctx, false)
	case "back":
		u.client.SetFocused(ctx, true)
	case "retry":
		if !u.client.State().IsJoined {
			u.Resume(ctx, "", "", "")
			return true
		}
		err = u.client.Reconnect(ctx)
	default:
		n, convErr := strconv.Atoi(cmd)
		if convErr != nil {
			u.say("Unknown command. Type 'help'.")
			return true
		}
		err = u.pickOption(n)
	}

	if err != nil {
		u.log.Debug().Err(err).Str("command", cmd).Msg("Command failed")
		u.say(describeError(err))
	}
	return true
}

func (u *UI) pickOption(n int) error {
	slide := u.client.State().CurrentSlide
	if slide == nil || n < 1 || n > len(slide.Options) {
		return fmt.Errorf("%w: no option %d", live.ErrValidation, n)
	}
	return u.client.SelectOption(slide.Options[n-1].ID)
}

func (u *UI) say(s string) {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	_, _ = io.WriteString(u.out, s)
}

func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

// parseJoin splits "<code> <name> [/ <school>]".
func parseJoin(arg string) (code, name, school string) {
	rest, school, _ := strings.Cut(arg, "/")
	code, name, _ = strings.Cut(strings.TrimSpace(rest), " ")
	return strings.TrimSpace(code), strings.TrimSpace(name), strings.TrimSpace(school)
}

func describeError(err error) string {
	switch {
	case errors.Is(err, live.ErrInvalidCode):
		return "No session uses that code."
	case errors.Is(err, live.ErrSessionEnded):
		return "That session has already ended."
	case errors.Is(err, live.ErrValidation):
		return "Check your input: " + err.Error()
	case errors.Is(err, live.ErrNavigationBlocked):
		return "Answer this slide before moving on."
	case errors.Is(err, live.ErrSessionPaused):
		return "The teacher has paused the session."
	case errors.Is(err, live.ErrNotJoined):
		return "Join a session first. Type 'help'."
	case errors.Is(err, live.ErrStaleSession):
		return "This session is no longer available. Join again."
	case errors.Is(err, live.ErrConnectivity):
		return "Connection problem. Type 'retry' when you are back online."
	default:
		return "Something went wrong: " + err.Error()
	}
}

// render draws the whole screen for one state snapshot.
func render(s live.State) string {
	var b strings.Builder

	switch s.Phase {
	case live.PhaseJoin:
		b.WriteString("== Join a live session ==\n")
		b.WriteString("Type: join <code> <your name>\n")
		if s.ConnectionError != nil {
			b.WriteString("! " + describeError(s.ConnectionError) + "\n")
		}
		return b.String()
	case live.PhaseReconnecting:
		return "Reconnecting to your session...\n"
	case live.PhaseEnded:
		renderSummary(&b, s)
		return b.String()
	}

	fmt.Fprintf(&b, "== %s | slide %d/%d | %s ==\n",
		s.Quiz.Title, s.EffectiveSlideIndex+1, len(s.Quiz.Slides), s.DisplayName)
	if !s.IsOnline {
		b.WriteString("! Offline. Answers are kept on this device.\n")
	}
	if s.ConnectionError != nil {
		b.WriteString("! " + describeError(s.ConnectionError) + "\n")
	}
	if s.Phase == live.PhasePaused {
		b.WriteString("The teacher has paused the session.\n")
		return b.String()
	}
	if s.Session != nil && s.Session.IsLocked {
		b.WriteString("(following the teacher)\n")
	}

	if s.CurrentSlide == nil {
		return b.String()
	}
	renderSlide(&b, s, *s.CurrentSlide)
	return b.String()
}

func renderSlide(b *strings.Builder, s live.State, slide model.Slide) {
	b.WriteString("\n" + slide.Title + "\n")
	if slide.Body != "" {
		b.WriteString(slide.Body + "\n")
	}

	picked := make(map[string]bool, len(s.SelectedOptions))
	for _, id := range s.SelectedOptions {
		picked[id] = true
	}
	if s.CurrentResponse != nil {
		for _, id := range responseOptions(*s.CurrentResponse) {
			picked[id] = true
		}
	}
	for i, o := range slide.Options {
		mark := " "
		if picked[o.ID] {
			mark = "x"
		}
		fmt.Fprintf(b, "  %d. [%s] %s\n", i+1, mark, o.Label)
	}
	if slide.Type == model.ActivityOpenText && s.CurrentResponse == nil {
		fmt.Fprintf(b, "  answer: %s\n", s.TextAnswer)
	}

	if s.CurrentResponse != nil {
		b.WriteString("\nAnswer submitted.")
		if s.ShowResult {
			b.WriteString(" " + verdict(s.CurrentResponse))
		}
		b.WriteString("\n")
	}
	if s.SaveWarning {
		b.WriteString("! Saved on this device only. It will sync when the connection returns.\n")
	}
}

func responseOptions(r model.SlideResponse) []string {
	switch a := r.Answer.(type) {
	case model.ChoiceAnswer:
		return []string{string(a)}
	case model.MultiChoiceAnswer:
		return a
	}
	return nil
}

func verdict(r *model.SlideResponse) string {
	switch {
	case r.IsCorrect == nil:
		return "Waiting for the teacher to check it."
	case *r.IsCorrect:
		return fmt.Sprintf("Correct! +%d", r.Points)
	default:
		return "Not quite."
	}
}

func renderSummary(b *strings.Builder, s live.State) {
	b.WriteString("== The session has ended ==\n")
	if s.DisplayName != "" {
		fmt.Fprintf(b, "Thanks for taking part, %s.\n", s.DisplayName)
	}
	correct, points := 0, 0
	for _, r := range s.Responses {
		if r.IsCorrect != nil && *r.IsCorrect {
			correct++
			points += r.Points
		}
	}
	fmt.Fprintf(b, "Answered %d of %d slides, %d correct, %d points.\n",
		len(s.Responses), len(s.Quiz.Slides), correct, points)
}
