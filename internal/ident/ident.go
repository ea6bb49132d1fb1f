// Package ident generates client-side message identifiers and the
// microsecond sort keys used to order messages that share a second.
package ident

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tempPrefix = "temp_"

// DateLayout is the layout used for client-assigned createDate values.
const DateLayout = "2006-01-02T15:04:05.000000Z07:00"

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// NewTempID returns a fresh temporary message id.
func NewTempID() string {
	return fmt.Sprintf("%s%d_%s", tempPrefix, time.Now().UnixMilli(), uuid.NewString())
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

// ParseDate accepts the backend's ISO dates with or without a zone
// suffix. Dates without a zone are taken as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Precise converts an ISO date to a microsecond timestamp, keeping the
// sub-millisecond digits the backend sends. Unparseable input yields 0.
func Precise(date string) int64 {
	if date == "" {
		return 0
	}
	t, err := ParseDate(date)
	if err != nil {
		return 0
	}
	return t.UnixMicro()
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// FromMicro is the inverse of Precise.
func FromMicro(ts int64) time.Time {
	return time.UnixMicro(ts)
}

// Clock hands out strictly increasing microsecond timestamps.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockAt is used by tests to pin wall time.
func NewClockAt(now func() time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	return c.now()
}

// Next returns a timestamp greater than any previously returned one.
func (c *Clock) Next() int64 {
	return c.Batch(1)[0]
}

// Batch reserves n timestamps one millisecond apart, so messages built
// together keep their construction order.
func (c *Clock) Batch(n int) []int64 {
	if n <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	first := c.now().UnixMicro()
	if first <= c.last {
		first = c.last + 1
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = first + int64(i)*1000
	}
	c.last = out[n-1]
	return out
}
