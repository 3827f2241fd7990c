package analysis

import (
	"fmt"
	"strings"
)

// segmentAnalysisPrompt captures the instructions sent to the configured LLM
// when analyzing one segment of source text. Update this text centrally so
// every call stays in sync.
const segmentAnalysisPrompt = `You are analyzing one segment of a longer document. Neighboring segment text is provided for context only; analyze the current segment, not the neighbors.

Describe what happens in the current segment: a concise summary, the overall tone, and the named characters or entities that appear.

You must respond ONLY with a JSON object like: {"summary": "short summary", "tone": "neutral", "entities": ["name"]}`

// boundaryDetectionPrompt asks the model to split aggregated per-segment
// analyses into self-contained narrative units.
const boundaryDetectionPrompt = `You are given numbered segment analyses of a document, in order. Group consecutive segments into self-contained narrative units. Units must not overlap, must appear in reading order, and unit numbers start at 1.

For each unit report the first and last segment index it spans, the character offsets within those segments where the unit begins and ends, and your confidence between 0 and 1.

You must respond ONLY with a JSON object like: {"units": [{"unit_number": 1, "start_segment": 0, "end_segment": 2, "start_char_index": 0, "end_char_index": 512, "confidence": 0.9}]}`

// layoutDerivationPrompt turns one narrative unit into a page-by-page layout
// script.
const layoutDerivationPrompt = `You are deriving a visual layout for one narrative unit of a document. Split the unit into pages. Each page gets a number (starting at 1 within the unit), a short description of its content, and the text it carries.

You must respond ONLY with a JSON object like: {"pages": [{"number": 1, "description": "what the page shows", "text": "the page text"}]}`

func buildSegmentPrompt(current, previous, next string) string {
	var b strings.Builder
	b.WriteString(segmentAnalysisPrompt)
	if previous = strings.TrimSpace(previous); previous != "" {
		fmt.Fprintf(&b, "\n\nPrevious segment (context only):\n%s", previous)
	}
	if next = strings.TrimSpace(next); next != "" {
		fmt.Fprintf(&b, "\n\nNext segment (context only):\n%s", next)
	}
	fmt.Fprintf(&b, "\n\nCurrent segment:\n%s", current)
	return b.String()
}

func buildBoundaryPrompt(aggregated string) string {
	return fmt.Sprintf("%s\n\nSegment analyses:\n%s", boundaryDetectionPrompt, aggregated)
}

func buildLayoutPrompt(unitNumber int, unitText string) string {
	return fmt.Sprintf("%s\n\nUnit %d:\n%s", layoutDerivationPrompt, unitNumber, unitText)
}
