// Package config provides centralized configuration management for the
// FinCopilot runtime. It loads a single YAML file at startup, applies
// defaults for omitted fields, and exposes typed sections for the engine,
// collaborators, storage backends, and observability.
package config
