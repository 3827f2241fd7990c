package boundary_test

import (
	"testing"

	"loom/internal/boundary"
	"loom/internal/jobs"
	"loom/internal/ports"
)

func fiveSegments() []jobs.Segment {
	segments := make([]jobs.Segment, 5)
	for i := range segments {
		segments[i] = jobs.Segment{JobID: "job-1", Index: i, Length: 1000}
	}
	segments[4].Length = 250
	return segments
}

func TestResolveClampsOutOfRangeBoundary(t *testing.T) {
	resolver := boundary.NewResolver(nil)

	raw := ports.RawBoundary{
		UnitNumber:     1,
		StartSegment:   -1,
		EndSegment:     10,
		StartCharIndex: -5,
		EndCharIndex:   999999,
		Confidence:     0.8,
	}

	resolved, changed := resolver.Resolve("job-1", raw, fiveSegments())
	if !changed {
		t.Fatal("expected clamping to report a change")
	}
	if resolved.StartSegment != 0 || resolved.EndSegment != 4 {
		t.Fatalf("expected segments clamped to [0,4], got [%d,%d]", resolved.StartSegment, resolved.EndSegment)
	}
	if resolved.StartCharIndex != 0 {
		t.Fatalf("expected start char clamped to 0, got %d", resolved.StartCharIndex)
	}
	if resolved.EndCharIndex >= 250 || resolved.EndCharIndex < 0 {
		t.Fatalf("expected end char inside final segment, got %d", resolved.EndCharIndex)
	}
	if resolved.StartSegment > resolved.EndSegment {
		t.Fatal("expected start <= end after resolution")
	}
	if resolved.UnitNumber != 1 || resolved.Confidence != 0.8 {
		t.Fatalf("expected unit metadata preserved, got %#v", resolved)
	}
}

func TestResolveValidBoundaryUnchanged(t *testing.T) {
	resolver := boundary.NewResolver(nil)

	raw := ports.RawBoundary{
		UnitNumber:     2,
		StartSegment:   1,
		EndSegment:     3,
		StartCharIndex: 100,
		EndCharIndex:   900,
		Confidence:     0.95,
	}

	resolved, changed := resolver.Resolve("job-1", raw, fiveSegments())
	if changed {
		t.Fatalf("expected valid boundary to pass through untouched, got %#v", resolved)
	}
	if resolved.StartSegment != 1 || resolved.EndSegment != 3 ||
		resolved.StartCharIndex != 100 || resolved.EndCharIndex != 900 {
		t.Fatalf("expected boundary preserved, got %#v", resolved)
	}
}

func TestResolveReordersInvertedRange(t *testing.T) {
	resolver := boundary.NewResolver(nil)

	raw := ports.RawBoundary{
		UnitNumber:   3,
		StartSegment: 3,
		EndSegment:   1,
	}

	resolved, changed := resolver.Resolve("job-1", raw, fiveSegments())
	if !changed {
		t.Fatal("expected inverted range to be corrected")
	}
	if resolved.StartSegment != 1 || resolved.EndSegment != 3 {
		t.Fatalf("expected [1,3], got [%d,%d]", resolved.StartSegment, resolved.EndSegment)
	}
}

func TestResolveOrdersCharsWithinSingleSegment(t *testing.T) {
	resolver := boundary.NewResolver(nil)

	raw := ports.RawBoundary{
		UnitNumber:     4,
		StartSegment:   2,
		EndSegment:     2,
		StartCharIndex: 700,
		EndCharIndex:   50,
	}

	resolved, changed := resolver.Resolve("job-1", raw, fiveSegments())
	if !changed {
		t.Fatal("expected inverted char range to be corrected")
	}
	if resolved.StartCharIndex != 50 || resolved.EndCharIndex != 700 {
		t.Fatalf("expected chars [50,700], got [%d,%d]", resolved.StartCharIndex, resolved.EndCharIndex)
	}
}

func TestResolveWithNoSegments(t *testing.T) {
	resolver := boundary.NewResolver(nil)

	resolved, changed := resolver.Resolve("job-1", ports.RawBoundary{UnitNumber: 1, StartSegment: 2, EndSegment: 5}, nil)
	if !changed {
		t.Fatal("expected empty segment set to force correction")
	}
	if resolved.StartSegment != 0 || resolved.EndSegment != 0 ||
		resolved.StartCharIndex != 0 || resolved.EndCharIndex != 0 {
		t.Fatalf("expected zeroed boundary, got %#v", resolved)
	}
}
