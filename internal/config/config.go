package config

import (
	"fmt"

	"tsconv/internal/models"
)

// Config holds application configuration
type Config struct {
	InputPath string
	Suffix    string // inserted before the extension of the result path
	Delimiter string // single-rune field delimiter

	// User-facing timestamp patterns, normalized by timefmt before the
	// pipeline sees them
	InDate  string
	InTime  string
	OutDate string
	OutTime string

	WorkerCount  int
	OnParseError string // "abort" or "skip"
	Verbose      bool
}

// Validate checks the configuration before a job is created.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("no input file given")
	}
	if len([]rune(c.Delimiter)) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.WorkerCount)
	}
	switch models.ErrorPolicy(c.OnParseError) {
	case models.PolicyAbort, models.PolicySkip:
	default:
		return fmt.Errorf("on-parse-error must be %q or %q, got %q",
			models.PolicyAbort, models.PolicySkip, c.OnParseError)
	}
	return nil
}
