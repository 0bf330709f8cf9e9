// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"strings"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/logging"
	"grimm.is/pernet/internal/netns"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration. The returned error has KindValidation
// and wraps a ValidationErrors listing every problem found.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Log != nil {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			errs.add("log.level", "%v", err)
		}
	}
	if c.Sysctl != nil && c.Sysctl.MaxTables < 0 {
		errs.add("sysctl.max_tables", "must not be negative")
	}
	if c.Memory != nil && c.Memory.LimitBytes < 0 {
		errs.add("memory.limit_bytes", "must not be negative")
	}
	if c.API != nil && c.API.Listen != "" {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			errs.add("api.listen", "invalid address %q: %v", c.API.Listen, err)
		}
	}

	seen := make(map[string]bool)
	for i, ns := range c.Namespaces {
		field := fmt.Sprintf("namespace[%d]", i)
		switch {
		case ns.Name == "":
			errs.add(field, "name is required")
		case strings.TrimSpace(ns.Name) != ns.Name || strings.ContainsAny(ns.Name, " \t/"):
			errs.add(field, "invalid name %q", ns.Name)
		case ns.Name == netns.DefaultName:
			errs.add(field, "the default namespace always exists")
		case seen[ns.Name]:
			errs.add(field, "duplicate namespace %q", ns.Name)
		}
		seen[ns.Name] = true
	}

	if len(errs) > 0 {
		return errors.Wrap(errs, errors.KindValidation, "invalid configuration")
	}
	return nil
}
