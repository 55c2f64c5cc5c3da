package realtime

import (
	"fmt"

	ws "github.com/stemsi/liveclass/internal/websocket"
)

// Policy decides which operations a gateway client may run. fieldKeys are
// the relative keys of an update (nil for other ops).
//
// Protect is applied to every permitted write: it receives the value stored
// at path before the write and the value the write would leave there, and
// returns what is actually stored.
type Policy interface {
	Check(op ws.Op, path string, fieldKeys []string) error
	Protect(path string, current, next any) any
}

// AllowAll permits everything. It is meant for trusted in-process clients
// and tests.
type AllowAll struct{}

func (AllowAll) Check(ws.Op, string, []string) error { return nil }

func (AllowAll) Protect(_ string, _, next any) any { return next }

// StudentPolicy is the policy for student devices. They may read session
// and join-code documents and write only inside a student sub-record.
// Responses already stored are append-only for them: the evaluation fields
// keep their stored values and a response cannot be removed.
type StudentPolicy struct{}

func (StudentPolicy) Check(op ws.Op, path string, fieldKeys []string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	switch op {
	case ws.OpGet, ws.OpSubscribe:
		if segs[0] == "sessions" || segs[0] == "sessionCodes" {
			return nil
		}
		return fmt.Errorf("%w: read %s", ErrForbidden, path)

	case ws.OpSet, ws.OpUpdate, ws.OpTouch:
		if len(segs) < 4 || segs[0] != "sessions" || segs[2] != "students" {
			return fmt.Errorf("%w: write %s", ErrForbidden, path)
		}
		if op == ws.OpSet {
			return checkEvaluationField(segs)
		}
		for _, k := range fieldKeys {
			rel, err := splitPath(k)
			if err != nil {
				return err
			}
			full := append(append([]string{}, segs...), rel...)
			if err := checkEvaluationField(full); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

// checkEvaluationField rejects writes addressing
// sessions/{id}/students/{sid}/responses/{slide}/isCorrect|points.
func checkEvaluationField(segs []string) error {
	if len(segs) >= 7 && segs[4] == "responses" && (segs[6] == "isCorrect" || segs[6] == "points") {
		return fmt.Errorf("%w: evaluation fields are teacher-only", ErrForbidden)
	}
	return nil
}

// Protect restores stored responses inside a student write. Whole-record,
// responses-map and single-response writes all pass through here; deeper
// writes to evaluation fields were already refused by Check.
func (StudentPolicy) Protect(path string, current, next any) any {
	segs, err := splitPath(path)
	if err != nil || len(segs) < 4 {
		return next
	}
	switch len(segs) {
	case 4:
		return protectStudent(current, next)
	case 5:
		if segs[4] == "responses" {
			return protectResponses(current, next)
		}
	case 6:
		if segs[4] == "responses" {
			return protectResponse(current, next)
		}
	}
	return next
}

func protectStudent(current, next any) any {
	cur, _ := current.(map[string]any)
	stored, ok := cur["responses"].(map[string]any)
	if !ok || len(stored) == 0 {
		return next
	}
	out, ok := next.(map[string]any)
	if !ok {
		out = make(map[string]any)
	}
	out["responses"] = protectResponses(stored, out["responses"])
	return out
}

func protectResponses(current, next any) any {
	stored, ok := current.(map[string]any)
	if !ok || len(stored) == 0 {
		return next
	}
	out, ok := next.(map[string]any)
	if !ok {
		out = make(map[string]any, len(stored))
	}
	for slideID, resp := range stored {
		out[slideID] = protectResponse(resp, out[slideID])
	}
	return out
}

// protectResponse keeps a stored response from being removed or replaced
// by a non-object, and pins its evaluation fields to the stored values.
func protectResponse(current, next any) any {
	stored, ok := current.(map[string]any)
	if !ok {
		return next
	}
	out, ok := next.(map[string]any)
	if !ok {
		return deepCopy(stored)
	}
	for _, field := range []string{"isCorrect", "points"} {
		if v, ok := stored[field]; ok {
			out[field] = v
		} else {
			delete(out, field)
		}
	}
	return out
}
