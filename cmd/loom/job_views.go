package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"loom/internal/jobs"
)

func buildStatusRows(stats map[jobs.Status]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, string(key))
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[jobs.Status(key)])})
	}
	return rows
}

func buildJobListRows(items []*jobs.Job) [][]string {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]*jobs.Job, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	rows := make([][]string, 0, len(sorted))
	for _, job := range sorted {
		rows = append(rows, []string{
			shortJobID(job.ID),
			formatStatusLabel(string(job.Status)),
			formatStatusLabel(string(job.CurrentStep)),
			formatProgress(job),
			fmt.Sprintf("%d", job.SegmentCount),
			fmt.Sprintf("%d", job.PageCount),
			formatDisplayTime(job.CreatedAt),
		})
	}
	return rows
}

func formatStatusLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "_", " ")
	return cases.Title(language.Und).String(value)
}

func formatProgress(job *jobs.Job) string {
	if job.StageTotal <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", job.StageProcessed, job.StageTotal)
}

func formatDisplayTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format("2006-01-02 15:04")
}

func shortJobID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
