package session

import (
	"reflect"
	"strings"
	"testing"
)

func TestSegmenterSplitsAtBoundaries(t *testing.T) {
	var seg Segmenter
	got := seg.Feed("Hi. How are you? I")
	want := []string{"Hi. ", "How are you? "}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Feed returned %q, want %q", got, want)
	}
	if rest := seg.Flush(); rest != "I" {
		t.Fatalf("Flush returned %q, want %q", rest, "I")
	}
	if rest := seg.Flush(); rest != "" {
		t.Fatalf("second Flush returned %q, want empty", rest)
	}
}

func TestSegmenterHoldsIncompleteSentences(t *testing.T) {
	var seg Segmenter
	if got := seg.Feed("Turn"); got != nil {
		t.Fatalf("expected no fragments, got %q", got)
	}
	if got := seg.Feed(" on the l"); got != nil {
		t.Fatalf("expected no fragments, got %q", got)
	}
	got := seg.Feed("ights. Now")
	if !reflect.DeepEqual(got, []string{"Turn on the lights. "}) {
		t.Fatalf("unexpected fragments %q", got)
	}
	got = seg.Feed(" please.")
	if !reflect.DeepEqual(got, []string{"Now please."}) {
		t.Fatalf("unexpected fragments %q", got)
	}
}

func TestSegmenterMultiplePunctuationMarks(t *testing.T) {
	var seg Segmenter
	got := seg.Feed("What?! Yes.")
	want := []string{"What?", "! ", "Yes."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Feed returned %q, want %q", got, want)
	}
}

func TestSegmenterKeepsWhitespaceRuns(t *testing.T) {
	var seg Segmenter
	got := seg.Feed("One.\n\nTwo.  Three")
	want := []string{"One.\n\n", "Two.  "}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Feed returned %q, want %q", got, want)
	}
	if rest := seg.Flush(); rest != "Three" {
		t.Fatalf("Flush returned %q", rest)
	}
}

func TestSegmenterReconstructsInput(t *testing.T) {
	chunks := []string{
		"Sure! The liv", "ing room lights are n", "ow on.\nAnything ",
		"else? ", "", "No? Good", "bye",
	}
	var seg Segmenter
	var out strings.Builder
	for _, chunk := range chunks {
		for _, fragment := range seg.Feed(chunk) {
			out.WriteString(fragment)
		}
	}
	out.WriteString(seg.Flush())

	if got, want := out.String(), strings.Join(chunks, ""); got != want {
		t.Fatalf("reconstruction mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestSegmenterEmptyFeed(t *testing.T) {
	var seg Segmenter
	if got := seg.Feed(""); got != nil {
		t.Fatalf("expected nil for empty feed, got %q", got)
	}
	if rest := seg.Flush(); rest != "" {
		t.Fatalf("expected empty flush, got %q", rest)
	}
}
