// Package textutil provides the pure text reconciliation helpers used when
// merging upstream agent output into a session transcript: snapshot/delta
// reconciliation, overlapping chunk suppression, and id deduplication.
package textutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vibecode/agentdeck/internal/chat"
)

var messageIDPattern = regexp.MustCompile(`^msg-(\d+)$`)

// Counter issues monotonically increasing message ids of the form msg-N.
// Seed it from the highest suffix in replayed history so fresh ids never
// collide with messages the backend already sent.
type Counter struct {
	n int
}

// Seed raises the counter to n if n is higher than the current value.
func (c *Counter) Seed(n int) {
	if n > c.n {
		c.n = n
	}
}

// Next returns the next message id.
func (c *Counter) Next() string {
	c.n++
	return fmt.Sprintf("msg-%d", c.n)
}

// Value returns the current counter value.
func (c *Counter) Value() int {
	return c.n
}

// SnapshotDelta reconciles a full-text snapshot against the text already
// shown. Some upstreams resend the entire accumulated assistant text at a
// checkpoint in addition to earlier incremental deltas.
//
// Rules, in order:
//   - current already starts with (or equals) the snapshot: nothing to
//     append, the text is already shown.
//   - snapshot extends current: append only the new suffix.
//   - current is empty: append the snapshot in full.
//   - any other overlap pattern is treated as unrelated and dropped. This
//     trades possible loss for guaranteed no-duplication.
func SnapshotDelta(current, snapshot string) (string, bool) {
	if snapshot == "" {
		return "", false
	}
	if strings.HasPrefix(current, snapshot) {
		return "", false
	}
	if strings.HasPrefix(snapshot, current) {
		return snapshot[len(current):], true
	}
	return "", false
}

// OverlapDelta trims the longest suffix of current that is a prefix of
// chunk, for upstreams that resend partially overlapping tail chunks
// instead of clean deltas.
func OverlapDelta(current, chunk string) string {
	n := len(current)
	if len(chunk) < n {
		n = len(chunk)
	}
	for k := n; k > 0; k-- {
		if strings.HasSuffix(current, chunk[:k]) {
			return chunk[k:]
		}
	}
	return chunk
}

// DedupeMessageIDs repairs id collisions in a message list. The first
// occurrence of an id is kept; later occurrences are reassigned from the
// counter. Unique ids seed the counter so subsequent fresh ids cannot
// collide with them.
func DedupeMessageIDs(msgs []chat.Message, counter *Counter) []chat.Message {
	seen := make(map[string]bool, len(msgs))
	out := make([]chat.Message, len(msgs))
	for i, msg := range msgs {
		if seen[msg.ID] {
			msg.ID = counter.Next()
		} else if n, ok := numericSuffix(msg.ID); ok {
			counter.Seed(n)
		}
		seen[msg.ID] = true
		out[i] = msg
	}
	return out
}

// DedupeDenials collapses permission denials by (tool, path) key,
// first-seen wins.
func DedupeDenials(denials []chat.PermissionDenial) []chat.PermissionDenial {
	seen := make(map[string]bool, len(denials))
	out := make([]chat.PermissionDenial, 0, len(denials))
	for _, d := range denials {
		key := d.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

// MaxMessageID returns the highest numeric suffix among ids matching
// msg-(\d+), or 0 if none match.
func MaxMessageID(msgs []chat.Message) int {
	max := 0
	for _, msg := range msgs {
		if n, ok := numericSuffix(msg.ID); ok && n > max {
			max = n
		}
	}
	return max
}

func numericSuffix(id string) (int, bool) {
	m := messageIDPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
