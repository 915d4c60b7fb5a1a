package history

import (
	"cmp"
	"slices"

	"github.com/spf13/cast"
	e "nuclight.org/miniapp-chat/pkg/entities"
)

type timedMessage struct {
	msg e.Message
	ts  int64
}

// SortByCreatedAt returns a new list ordered by created_at.
//
// When no message carries a parseable timestamp the arrival order is kept.
// Otherwise messages without a valid timestamp count as time zero, and the
// sort is stable.
func SortByCreatedAt(list []e.Message) []e.Message {
	timed := make([]timedMessage, len(list))
	hasDates := false

	for i, m := range list {
		ts, ok := timestamp(m.CreatedAt)
		hasDates = hasDates || ok
		timed[i] = timedMessage{msg: m, ts: ts}
	}

	if hasDates {
		slices.SortStableFunc(timed, func(a, b timedMessage) int {
			return cmp.Compare(a.ts, b.ts)
		})
	}

	out := make([]e.Message, len(timed))
	for i, t := range timed {
		out[i] = t.msg
	}

	return out
}

// Canonicalize deduplicates and orders a log.
func Canonicalize(list []e.Message) []e.Message {
	return SortByCreatedAt(Dedup(list))
}

// timestamp parses created_at into unix milliseconds.
func timestamp(createdAt string) (int64, bool) {
	if createdAt == "" {
		return 0, false
	}

	t, err := cast.ToTimeE(createdAt)
	if err != nil {
		return 0, false
	}

	return t.UnixMilli(), true
}
