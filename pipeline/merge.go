package pipeline

import (
	"sort"

	"github.com/mrsingh-rishi/watson/types"
)

// Merge combines per-speaker segment lists into one sequence ordered by
// start offset. Ties are broken by numeric speaker id, then by the
// segment's index in its speaker's list. Inputs are not modified and
// Merge(Merge(x)) equals Merge(x).
func Merge(lists ...[]types.TranscriptSegment) []types.TranscriptSegment {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]types.TranscriptSegment, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.SpeakerID != b.SpeakerID {
			return speakerLess(a.SpeakerID, b.SpeakerID)
		}
		return a.Index < b.Index
	})
	return out
}

// speakerLess orders numeric ids numerically: shorter ids first, then
// lexically.
func speakerLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// FormatLines renders every segment as "[mm:ss] speakerName: text".
func FormatLines(segments []types.TranscriptSegment) []string {
	lines := make([]string, len(segments))
	for i, s := range segments {
		lines[i] = s.Line()
	}
	return lines
}
