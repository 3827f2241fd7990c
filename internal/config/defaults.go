package config

const (
	defaultDataDir    = "~/.local/share/loom"
	defaultContentDir = "~/.local/share/loom/content"
	defaultLogDir     = "~/.local/share/loom/logs"

	defaultSegmentTargetSize      = 1000
	defaultSegmentOverlap         = 100
	defaultSegmentMinSize         = 200
	defaultSegmentMaxSize         = 2000
	defaultSegmentMaxOverlapRatio = 0.25

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultLLMReferer        = "https://github.com/loom-pipeline/loom"
	defaultLLMTitle          = "Loom Pipeline"
	defaultLLMTimeoutSeconds = 60

	defaultWorkerPollInterval       = 5
	defaultWorkerErrorRetryInterval = 10
	defaultWorkerLeaseSeconds       = 120
	defaultWorkerLeaseRenewInterval = 30

	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			ContentDir: defaultContentDir,
			LogDir:     defaultLogDir,
		},
		Segmenter: Segmenter{
			TargetSize:      defaultSegmentTargetSize,
			Overlap:         defaultSegmentOverlap,
			MinSize:         defaultSegmentMinSize,
			MaxSize:         defaultSegmentMaxSize,
			MaxOverlapRatio: defaultSegmentMaxOverlapRatio,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Worker: Worker{
			PollInterval:       defaultWorkerPollInterval,
			ErrorRetryInterval: defaultWorkerErrorRetryInterval,
			LeaseSeconds:       defaultWorkerLeaseSeconds,
			LeaseRenewInterval: defaultWorkerLeaseRenewInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completion:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
