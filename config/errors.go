package config

import "errors"

// ErrMissingRequired is CONFIG_MISSING from spec.md §7: fatal at
// startup, never recovered from inside the core.
var ErrMissingRequired = errors.New("config: required value missing")
