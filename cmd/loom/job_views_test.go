package main

import (
	"testing"
	"time"

	"loom/internal/jobs"
)

func TestFormatStatusLabel(t *testing.T) {
	cases := map[string]string{
		"pending":   "Pending",
		"analyze":   "Analyze",
		" failed ":  "Failed",
		"":          "",
		"two_words": "Two Words",
	}
	for input, want := range cases {
		if got := formatStatusLabel(input); got != want {
			t.Fatalf("formatStatusLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestBuildJobListRowsOrdersNewestFirst(t *testing.T) {
	older := &jobs.Job{ID: "aaaaaaaa-1", Status: jobs.StatusCompleted, CreatedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	newer := &jobs.Job{ID: "bbbbbbbb-2", Status: jobs.StatusPending, CreatedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}

	rows := buildJobListRows([]*jobs.Job{older, newer})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != shortJobID(newer.ID) {
		t.Fatalf("expected newest job first, got %q", rows[0][0])
	}
	if rows[1][1] != "Completed" {
		t.Fatalf("expected completed label, got %q", rows[1][1])
	}
}

func TestFormatProgress(t *testing.T) {
	if got := formatProgress(&jobs.Job{}); got != "-" {
		t.Fatalf("expected placeholder for no totals, got %q", got)
	}
	if got := formatProgress(&jobs.Job{StageProcessed: 2, StageTotal: 5}); got != "2/5" {
		t.Fatalf("expected 2/5, got %q", got)
	}
}
