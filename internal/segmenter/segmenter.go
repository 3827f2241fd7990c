// Package segmenter splits source text into ordered, indexed segments with
// bounded overlap. Splitting is deterministic: identical text and config
// always produce identical boundaries, because downstream stages reference
// segments by index and offset computed exactly once per job.
package segmenter

import (
	"fmt"

	"loom/internal/config"
	"loom/internal/services"
)

// Config holds the splitter parameters.
type Config struct {
	TargetSize      int
	Overlap         int
	MinSize         int
	MaxSize         int
	MaxOverlapRatio float64
}

// FromAppConfig converts the application config section into a splitter config.
func FromAppConfig(cfg config.Segmenter) Config {
	return Config{
		TargetSize:      cfg.TargetSize,
		Overlap:         cfg.Overlap,
		MinSize:         cfg.MinSize,
		MaxSize:         cfg.MaxSize,
		MaxOverlapRatio: cfg.MaxOverlapRatio,
	}
}

// Segment is one contiguous slice of the source text. Start and End are rune
// offsets into the source; End is exclusive.
type Segment struct {
	Index int
	Start int
	End   int
	Text  string
}

// Length returns the segment length in runes.
func (s Segment) Length() int {
	return s.End - s.Start
}

// Split produces the ordered segment sequence for text. Empty input yields
// zero segments and no error. Segments cover the entire input with no gaps,
// consecutive segments overlap by exactly cfg.Overlap runes (the final
// segment may overlap less), and no segment exceeds cfg.MaxSize.
func Split(text string, cfg Config) ([]Segment, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := cfg.TargetSize - cfg.Overlap
	segments := make([]Segment, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := start + cfg.TargetSize
		if end > n {
			end = n
		}
		segments = append(segments, Segment{
			Index: len(segments),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == n {
			break
		}
	}
	return segments, nil
}

func validate(cfg Config) error {
	switch {
	case cfg.TargetSize <= 0:
		return services.Wrap(services.ErrConfiguration, "split", "validate", "target size must be positive", nil)
	case cfg.Overlap < 0:
		return services.Wrap(services.ErrConfiguration, "split", "validate", "overlap must not be negative", nil)
	case cfg.Overlap >= cfg.TargetSize:
		return services.Wrap(services.ErrConfiguration, "split", "validate",
			fmt.Sprintf("overlap %d must be smaller than target size %d", cfg.Overlap, cfg.TargetSize), nil)
	case cfg.MinSize < 0:
		return services.Wrap(services.ErrConfiguration, "split", "validate", "min size must not be negative", nil)
	case cfg.MaxSize <= 0:
		return services.Wrap(services.ErrConfiguration, "split", "validate", "max size must be positive", nil)
	case cfg.MinSize > cfg.MaxSize:
		return services.Wrap(services.ErrConfiguration, "split", "validate",
			fmt.Sprintf("min size %d must not exceed max size %d", cfg.MinSize, cfg.MaxSize), nil)
	case cfg.TargetSize > cfg.MaxSize:
		return services.Wrap(services.ErrConfiguration, "split", "validate",
			fmt.Sprintf("target size %d must not exceed max size %d", cfg.TargetSize, cfg.MaxSize), nil)
	case cfg.MaxOverlapRatio <= 0 || cfg.MaxOverlapRatio > 1:
		return services.Wrap(services.ErrConfiguration, "split", "validate", "max overlap ratio must be between 0 and 1", nil)
	case float64(cfg.Overlap) > float64(cfg.TargetSize)*cfg.MaxOverlapRatio:
		return services.Wrap(services.ErrConfiguration, "split", "validate",
			fmt.Sprintf("overlap %d exceeds %.0f%% of target size %d", cfg.Overlap, cfg.MaxOverlapRatio*100, cfg.TargetSize), nil)
	}
	return nil
}
