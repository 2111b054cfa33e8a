package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// GitHubNotifier opens a tracking issue per feedback record. It is only
// wired when both repo and token are configured.
type GitHubNotifier struct {
	repo   string // "owner/name"
	token  string
	client *http.Client
	logger *logrus.Logger
}

// NewGitHubNotifier returns nil when repo or token is missing, so callers
// can wire the result directly.
func NewGitHubNotifier(repo, token string, logger *logrus.Logger) *GitHubNotifier {
	if repo == "" || token == "" {
		return nil
	}
	return &GitHubNotifier{
		repo:   repo,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify creates one issue carrying the verdict.
func (n *GitHubNotifier) Notify(ctx context.Context, fb *Feedback) error {
	agreed := "disagreed"
	if fb.UserAgreed {
		agreed = "agreed"
	}

	payload := map[string]interface{}{
		"title": fmt.Sprintf("Billing feedback: %s -> %s (%s)", fb.SuggestedType, fb.UserType, agreed),
		"body": fmt.Sprintf(
			"**Input** (%s):\n\n> %s\n\n**Suggested:** %s %s\n**User verdict:** %s %s\n\n%s",
			fb.Lang, fb.InputText,
			fb.SuggestedType, fb.SuggestedCode,
			fb.UserType, fb.UserCode,
			fb.Comment,
		),
		"labels": []string{"feedback"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal issue payload: %w", err)
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/issues", n.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github issue creation returned %d: %s", resp.StatusCode, snippet)
	}

	n.logger.WithField("repo", n.repo).Debug("Feedback issue created")
	return nil
}
