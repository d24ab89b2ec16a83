package runbook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tarsy-io/tarsy/pkg/config"
)

// listSeparator joins the runbook listing into a single cache value. NUL
// can't appear in a URL, so the join is unambiguous.
const listSeparator = "\x00"

// Service is the runbook resolution pipeline the chain executor calls at
// the start of every session: validate the URL, fetch through the GitHub
// client, cache by normalized URL.
type Service struct {
	github   *GitHubClient
	cache    *Cache
	cfg      *config.RunbookConfig
	fallback string // inline content used when a submission has no URL
}

// NewService wires the service. githubToken may be empty (public repos,
// anonymous rate limits); defaultRunbook is the no-URL fallback content.
func NewService(cfg *config.RunbookConfig, githubToken string, defaultRunbook string) *Service {
	cacheTTL := 1 * time.Minute
	if cfg != nil && cfg.CacheTTL > 0 {
		cacheTTL = cfg.CacheTTL
	}

	return &Service{
		github:   NewGitHubClient(githubToken),
		cache:    NewCache(cacheTTL),
		cfg:      cfg,
		fallback: defaultRunbook,
	}
}

// Resolve returns the runbook content for a session: the per-alert URL
// when the submission carried one (validated, fetched, cached), otherwise
// the configured inline fallback. A fetch failure surfaces as an error —
// the chain executor decides whether to proceed without a runbook.
func (s *Service) Resolve(ctx context.Context, alertRunbookURL string) (string, error) {
	if alertRunbookURL == "" {
		return s.fallback, nil
	}

	content, err := s.fetchWithCache(ctx, alertRunbookURL)
	if err != nil {
		return "", fmt.Errorf("fetch alert runbook %s: %w", alertRunbookURL, err)
	}
	return content, nil
}

// ListRunbooks enumerates the markdown files of the configured repository,
// or an empty list when no repository is configured. The listing shares
// the content cache, keyed by the repo URL.
func (s *Service) ListRunbooks(ctx context.Context) ([]string, error) {
	if s.cfg == nil || s.cfg.RepoURL == "" {
		return []string{}, nil
	}

	if cached, ok := s.cache.Get(s.cfg.RepoURL); ok {
		if cached == "" {
			return []string{}, nil
		}
		return strings.Split(cached, listSeparator), nil
	}

	files, err := s.github.ListMarkdownFiles(ctx, s.cfg.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("list runbooks from %s: %w", s.cfg.RepoURL, err)
	}
	if files == nil {
		files = []string{}
	}

	s.cache.Set(s.cfg.RepoURL, strings.Join(files, listSeparator))
	return files, nil
}

// OverrideHTTPClientForTest swaps the GitHub client's HTTP client. Test
// seam only.
func (s *Service) OverrideHTTPClientForTest(httpClient *http.Client) {
	s.github.httpClient = httpClient
}

func (s *Service) fetchWithCache(ctx context.Context, rawURL string) (string, error) {
	var allowedDomains []string
	if s.cfg != nil {
		allowedDomains = s.cfg.AllowedDomains
	}
	if err := ValidateRunbookURL(rawURL, allowedDomains); err != nil {
		return "", err
	}

	// Cache under the normalized (raw) URL so blob and raw spellings of
	// the same document share an entry.
	normalizedURL := ConvertToRawURL(rawURL)
	if content, ok := s.cache.Get(normalizedURL); ok {
		return content, nil
	}

	content, err := s.github.DownloadContent(ctx, rawURL)
	if err != nil {
		return "", err
	}
	s.cache.Set(normalizedURL, content)
	return content, nil
}
