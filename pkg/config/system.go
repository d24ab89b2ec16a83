package config

import "time"

// GitHubConfig carries the GitHub integration's resolved settings. Only the
// env-var NAME for the token lives in configuration; the token itself stays
// in the environment.
type GitHubConfig struct {
	TokenEnv string // defaults to "GITHUB_TOKEN"
}

// RunbookConfig carries the runbook system's resolved settings.
type RunbookConfig struct {
	// RepoURL is the GitHub repository the runbook listing endpoint reads;
	// empty disables listing.
	RepoURL string

	// CacheTTL is how long fetched runbook content stays cached.
	CacheTTL time.Duration

	// AllowedDomains whitelists runbook URL hosts. Defaults to github.com
	// and raw.githubusercontent.com.
	AllowedDomains []string
}
