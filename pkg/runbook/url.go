package runbook

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RepoURLParts is a GitHub blob/tree URL broken into its components.
type RepoURLParts struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
}

// githubBlobTreePattern matches the path of a GitHub blob or tree URL:
// /{owner}/{repo}/{blob|tree}/{ref}/{path...}
var githubBlobTreePattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(blob|tree)/([^/]+)(?:/(.*))?$`)

// ConvertToRawURL rewrites a GitHub blob URL to its raw-content
// counterpart, so the fetch gets markdown instead of the GitHub HTML
// viewer. Raw URLs and anything that isn't a recognizable GitHub blob/tree
// URL pass through unchanged.
func ConvertToRawURL(githubURL string) string {
	parsed, err := url.Parse(githubURL)
	if err != nil {
		return githubURL
	}
	if parsed.Host == "raw.githubusercontent.com" {
		return githubURL
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return githubURL
	}

	parts := githubBlobTreePattern.FindStringSubmatch(parsed.Path)
	if parts == nil {
		return githubURL
	}

	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s",
		parts[1], parts[2], parts[4], parts[5])
}

// ParseRepoURL dissects a GitHub tree/blob URL for the runbook listing.
func ParseRepoURL(rawURL string) (*RepoURLParts, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return nil, fmt.Errorf("not a GitHub URL: %s", parsed.Host)
	}

	parts := githubBlobTreePattern.FindStringSubmatch(parsed.Path)
	if parts == nil {
		return nil, fmt.Errorf("URL does not match GitHub blob/tree pattern: %s", parsed.Path)
	}

	return &RepoURLParts{
		Owner: parts[1],
		Repo:  parts[2],
		Ref:   parts[4],
		Path:  parts[5],
	}, nil
}

// ValidateRunbookURL rejects runbook URLs outside http(s) or off the
// configured domain allowlist (a "www." prefix on an allowed domain also
// passes). An empty allowlist only enforces the scheme.
func ValidateRunbookURL(rawURL string, allowedDomains []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q: only http and https allowed", parsed.Scheme)
	}

	if len(allowedDomains) == 0 {
		return nil
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range allowedDomains {
		if host == domain || host == "www."+domain {
			return nil
		}
	}
	return fmt.Errorf("domain %q not in allowed list", host)
}
