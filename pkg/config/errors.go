package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for the configuration layer. Registry lookups wrap the
// *NotFound values with the missing id; callers test with errors.Is.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidYAML    = errors.New("invalid YAML syntax")

	ErrAgentNotFound       = errors.New("agent not found")
	ErrChainNotFound       = errors.New("chain not found")
	ErrMCPServerNotFound   = errors.New("MCP server not found")
	ErrLLMProviderNotFound = errors.New("LLM provider not found")
)

// ValidationError pins a validation failure to the component and field that
// caused it, so a startup failure reads like "agent 'KubernetesAgent':
// field 'llm_backend': ..." instead of a bare message.
type ValidationError struct {
	Component string // "agent", "chain", "mcp_server", "llm_provider", "defaults"
	ID        string
	Field     string // optional
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError.
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// LoadError pins a loading failure to the configuration file it came from.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError builds a LoadError.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
