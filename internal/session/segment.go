package session

import "regexp"

// sentenceBoundary ends a fragment at terminal punctuation and absorbs
// the whitespace that follows it.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s*`)

// Segmenter cuts streamed text into sentence fragments as soon as each
// boundary arrives, so synthesis can start before the reply finishes.
// Boundary whitespace stays attached to its fragment: concatenating
// every emitted fragment plus Flush reproduces the fed text exactly.
type Segmenter struct {
	buf string
}

// Feed appends chunk to the buffer and returns the fragments it
// completed, in order. A fragment is everything up to and including a
// boundary match.
func (s *Segmenter) Feed(chunk string) []string {
	s.buf += chunk
	locs := sentenceBoundary.FindAllStringIndex(s.buf, -1)
	if len(locs) == 0 {
		return nil
	}

	var fragments []string
	start := 0
	for _, loc := range locs {
		fragments = append(fragments, s.buf[start:loc[1]])
		start = loc[1]
	}
	s.buf = s.buf[start:]
	return fragments
}

// Flush returns the unterminated tail, if any, and empties the buffer.
func (s *Segmenter) Flush() string {
	rest := s.buf
	s.buf = ""
	return rest
}
