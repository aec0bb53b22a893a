// Package config loads and validates the single YAML configuration file.
// The configuration is read once at startup and treated as immutable for
// the rest of the run: the instance registry, the file protection policy,
// directories, timeouts, retention windows, and the notifier settings are
// all constructed here and passed explicitly into component constructors.
package config
