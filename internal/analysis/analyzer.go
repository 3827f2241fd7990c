package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"loom/internal/ports"
	"loom/internal/services"
)

// SegmentAnalysis is the structured result of analyzing one segment.
type SegmentAnalysis struct {
	Summary  string   `json:"summary"`
	Tone     string   `json:"tone"`
	Entities []string `json:"entities"`
}

// Page is one derived page within a narrative unit's layout.
type Page struct {
	Number      int    `json:"number"`
	Description string `json:"description"`
	Text        string `json:"text"`
}

// UnitLayout is the page-by-page script derived for one narrative unit.
type UnitLayout struct {
	Pages []Page `json:"pages"`
}

// Analyzer drives the LLM-backed transformation stages through the
// structured-generation port. It implements the boundary-detection port.
type Analyzer struct {
	gen ports.StructuredGenerator
}

// NewAnalyzer builds an analyzer on top of a structured generator.
func NewAnalyzer(gen ports.StructuredGenerator) *Analyzer {
	return &Analyzer{gen: gen}
}

// AnalyzeSegment analyzes one segment with its neighbors as context and
// returns both the parsed result and the raw artifact for storage.
func (a *Analyzer) AnalyzeSegment(ctx context.Context, current, previous, next string) (SegmentAnalysis, json.RawMessage, error) {
	var result SegmentAnalysis
	if strings.TrimSpace(current) == "" {
		return result, nil, services.Wrap(services.ErrValidation, "analyze", "segment", "segment text is empty", nil)
	}

	raw, err := a.gen.Generate(ctx, buildSegmentPrompt(current, previous, next), []byte(segmentAnalysisSchema))
	if err != nil {
		return result, nil, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, nil, services.Wrap(services.ErrValidation, "analyze", "segment", "decode analysis", err)
	}
	return result, raw, nil
}

// DetectBoundaries proposes narrative-unit boundaries over aggregated
// per-segment analyses. The returned boundaries are raw analyzer output and
// must be resolved against the persisted segment set before use.
func (a *Analyzer) DetectBoundaries(ctx context.Context, aggregated string) ([]ports.RawBoundary, error) {
	if strings.TrimSpace(aggregated) == "" {
		return nil, services.Wrap(services.ErrValidation, "boundaries", "detect", "aggregated analysis is empty", nil)
	}

	raw, err := a.gen.Generate(ctx, buildBoundaryPrompt(aggregated), []byte(boundarySchema))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Units []ports.RawBoundary `json:"units"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, services.Wrap(services.ErrValidation, "boundaries", "detect", "decode boundaries", err)
	}
	return payload.Units, nil
}

// DeriveLayout produces the page layout for one narrative unit.
func (a *Analyzer) DeriveLayout(ctx context.Context, unitNumber int, unitText string) (UnitLayout, json.RawMessage, error) {
	var layout UnitLayout
	if strings.TrimSpace(unitText) == "" {
		return layout, nil, services.Wrap(services.ErrValidation, "layout", "derive", fmt.Sprintf("unit %d text is empty", unitNumber), nil)
	}

	raw, err := a.gen.Generate(ctx, buildLayoutPrompt(unitNumber, unitText), []byte(layoutSchema))
	if err != nil {
		return layout, nil, err
	}
	if err := json.Unmarshal(raw, &layout); err != nil {
		return layout, nil, services.Wrap(services.ErrValidation, "layout", "derive", "decode layout", err)
	}
	return layout, raw, nil
}

// AggregateAnalyses renders numbered per-segment analyses into the text block
// handed to boundary detection.
func AggregateAnalyses(analyses []SegmentAnalysis) string {
	var b strings.Builder
	for i, a := range analyses {
		fmt.Fprintf(&b, "[%d] %s", i, strings.TrimSpace(a.Summary))
		if tone := strings.TrimSpace(a.Tone); tone != "" {
			fmt.Fprintf(&b, " (tone: %s)", tone)
		}
		if len(a.Entities) > 0 {
			fmt.Fprintf(&b, " [entities: %s]", strings.Join(a.Entities, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
