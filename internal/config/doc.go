// Package config provides configuration loading and validation for the
// marker splitter. It reads YAML on top of built-in defaults and validates
// each section separately.
package config
