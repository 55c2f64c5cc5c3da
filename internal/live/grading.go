package live

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/stemsi/liveclass/internal/model"
)

// Grader decides correctness of an answer on the student's device.
// gradable is false when the slide carries no answer key for the given
// payload; such responses wait for the teacher.
type Grader interface {
	Grade(slide model.Slide, answer model.Answer) (correct, gradable bool)
}

// DefaultGrader grades the built-in activity types.
type DefaultGrader struct{}

func (DefaultGrader) Grade(slide model.Slide, answer model.Answer) (bool, bool) {
	switch a := answer.(type) {
	case model.ChoiceAnswer:
		if len(slide.CorrectOptionIDs) == 0 {
			return false, false
		}
		return string(a) == slide.CorrectOptionIDs[0], true

	case model.MultiChoiceAnswer:
		if len(slide.CorrectOptionIDs) == 0 {
			return false, false
		}
		return sameSet(a, slide.CorrectOptionIDs), true

	case model.TextAnswer:
		if strings.TrimSpace(slide.CorrectAnswer) == "" {
			return false, false
		}
		for _, accepted := range strings.Split(slide.CorrectAnswer, "|") {
			if TextMatches(string(a), accepted) {
				return true, true
			}
		}
		return false, true

	default:
		return false, false
	}
}

func sameSet(a, b []string) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}

// TextMatches compares free text tolerantly: case and whitespace are
// ignored, and numeric answers ("0,5", "1/2", ".5") compare by value.
func TextMatches(given, expected string) bool {
	g, e := normalizeText(given), normalizeText(expected)
	if g == e {
		return true
	}
	gv, gok := parseNumber(g)
	ev, eok := parseNumber(e)
	if !gok || !eok {
		return false
	}
	if gv == ev {
		return true
	}
	scale := math.Max(math.Abs(gv), math.Abs(ev))
	return math.Abs(gv-ev) <= 1e-9*scale
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func parseNumber(s string) (float64, bool) {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, nok := parseDecimal(num)
		d, dok := parseDecimal(den)
		if !nok || !dok || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	return parseDecimal(s)
}

func parseDecimal(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
