package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSegmenter(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSegmenter() error {
	if c.Segmenter.TargetSize <= 0 {
		return errors.New("segmenter.target_size must be positive")
	}
	if c.Segmenter.Overlap < 0 {
		return errors.New("segmenter.overlap must not be negative")
	}
	if c.Segmenter.Overlap >= c.Segmenter.TargetSize {
		return errors.New("segmenter.overlap must be smaller than segmenter.target_size")
	}
	if c.Segmenter.MinSize < 0 {
		return errors.New("segmenter.min_size must not be negative")
	}
	if c.Segmenter.MaxSize <= 0 {
		return errors.New("segmenter.max_size must be positive")
	}
	if c.Segmenter.MinSize > c.Segmenter.MaxSize {
		return errors.New("segmenter.min_size must not exceed segmenter.max_size")
	}
	if c.Segmenter.TargetSize > c.Segmenter.MaxSize {
		return errors.New("segmenter.target_size must not exceed segmenter.max_size")
	}
	if c.Segmenter.MaxOverlapRatio <= 0 || c.Segmenter.MaxOverlapRatio > 1 {
		return errors.New("segmenter.max_overlap_ratio must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if err := ensurePositiveMap(map[string]int{
		"worker.poll_interval":        c.Worker.PollInterval,
		"worker.error_retry_interval": c.Worker.ErrorRetryInterval,
		"worker.lease_seconds":        c.Worker.LeaseSeconds,
		"worker.lease_renew_interval": c.Worker.LeaseRenewInterval,
	}); err != nil {
		return err
	}
	if c.Worker.LeaseRenewInterval >= c.Worker.LeaseSeconds {
		return errors.New("worker.lease_renew_interval must be smaller than worker.lease_seconds")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for field, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", field)
		}
	}
	return nil
}
