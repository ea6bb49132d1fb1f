package merge

import (
	"time"

	"github.com/vedran77/pulsesync/internal/ident"
)

// DefaultSectionGap separates time sections in the rendered list.
const DefaultSectionGap = 10 * time.Minute

type Section struct {
	Start    time.Time        `json:"start"`
	Messages []DisplayMessage `json:"messages"`
}

// GroupByTime splits an ordered display list into sections whenever two
// neighbours are more than gap apart.
func GroupByTime(msgs []DisplayMessage, gap time.Duration) []Section {
	if gap <= 0 {
		gap = DefaultSectionGap
	}
	var sections []Section
	var prev int64
	for i, m := range msgs {
		if i == 0 || m.TimeStamp-prev > gap.Microseconds() {
			sections = append(sections, Section{Start: ident.FromMicro(m.TimeStamp)})
		}
		last := &sections[len(sections)-1]
		last.Messages = append(last.Messages, m)
		prev = m.TimeStamp
	}
	return sections
}
