package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"loom/internal/analysis"
	"loom/internal/config"
	"loom/internal/contentstore"
	"loom/internal/jobs"
	"loom/internal/llm"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/pipeline"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the job store for the duration of one command.
func (c *commandContext) withStore(fn func(*config.Config, *jobs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobs.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// buildDeps assembles the full pipeline dependency set backed by the real
// language model client.
func buildDeps(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*pipeline.Deps, error) {
	content, err := contentstore.New(cfg)
	if err != nil {
		return nil, err
	}
	analyzer := analysis.NewAnalyzer(llm.NewClient(cfg))
	return &pipeline.Deps{
		Config:   cfg,
		Store:    store,
		Content:  content,
		Analyzer: analyzer,
		Detector: analyzer,
		Notifier: notifications.NewService(cfg),
		Logger:   logger,
	}, nil
}

func commandLogger(cfg *config.Config) *slog.Logger {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
