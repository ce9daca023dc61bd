package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avery-oss/loom/internal/logging"
)

// AuthMethod selects how the client obtains its bearer token.
type AuthMethod string

const (
	AuthGH   AuthMethod = "gh"   // delegate to a local forge CLI that prints a token
	AuthEnv  AuthMethod = "env"  // read from an environment variable already expanded into Token
	AuthAuto AuthMethod = ""     // try gh first, fall back to env
)

// Client is a hand-rolled REST client for the forge's issue, label, and
// pull-request endpoints. It deliberately does not wrap an SDK: the surface
// this daemon needs is small and the retry/CAS semantics are bespoke.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        *slog.Logger
}

// NewClient builds a client. token is the resolved bearer token (see
// ResolveToken for the gh/env/auto policy).
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
		log:        logging.WithComponent("forge"),
	}
}

// ResolveToken implements forge.auth_method: "gh" shells out to the gh CLI,
// "env" returns envToken as-is, and auto ("") tries gh first and falls back
// to envToken.
func ResolveToken(method AuthMethod, envToken string) (string, error) {
	switch method {
	case AuthEnv:
		if envToken == "" {
			return "", &Error{Kind: KindConfig, Op: "resolve_token", Underlying: fmt.Errorf("no token in environment")}
		}
		return envToken, nil
	case AuthGH:
		return ghToken()
	default:
		if tok, err := ghToken(); err == nil {
			return tok, nil
		}
		if envToken != "" {
			return envToken, nil
		}
		return "", &Error{Kind: KindConfig, Op: "resolve_token", Underlying: fmt.Errorf("no gh CLI and no environment token")}
	}
}

func ghToken() (string, error) {
	out, err := exec.Command("gh", "auth", "token").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindUnexpected, Op: method + " " + path, Underlying: err}
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return &Error{Kind: KindUnexpected, Op: method + " " + path, Underlying: err}
	}
	req.Header.Set("Accept", "application/vnd.forge+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: method + " " + path, Underlying: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: method + " " + path, Underlying: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{Kind: KindAuth, Op: method + " " + path, Status: resp.StatusCode, Underlying: fmt.Errorf("%s", respBody)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &Error{Kind: KindRateLimited, Op: method + " " + path, Status: resp.StatusCode,
			ResetAt: parseResetHeader(resp.Header.Get("X-RateLimit-Reset")), Underlying: fmt.Errorf("%s", respBody)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return &Error{Kind: KindNotFound, Op: method + " " + path, Status: resp.StatusCode, Underlying: fmt.Errorf("%s", respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Kind: KindUnexpected, Op: method + " " + path, Status: resp.StatusCode, Underlying: fmt.Errorf("%s", respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &Error{Kind: KindUnexpected, Op: method + " " + path, Underlying: err}
		}
	}
	return nil
}

func parseResetHeader(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Now().Add(60 * time.Second).Unix()
	}
	return n
}

// ListOpenIssues returns all open issues with their full label set.
func (c *Client) ListOpenIssues(ctx context.Context, repo string) ([]*Issue, error) {
	return c.listIssues(ctx, repo, &ListIssuesOptions{State: IssueStateOpen})
}

// ListClosedIssues returns all closed issues, used by the window cleaner.
func (c *Client) ListClosedIssues(ctx context.Context, repo string) ([]*Issue, error) {
	return c.listIssues(ctx, repo, &ListIssuesOptions{State: IssueStateClosed})
}

func (c *Client) listIssues(ctx context.Context, repo string, opts *ListIssuesOptions) ([]*Issue, error) {
	path := fmt.Sprintf("/repos/%s/issues?state=%s", repo, opts.State)
	issues, err := WithRetry(ctx, func() ([]*Issue, error) {
		var v []*Issue
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &v); err != nil {
			return nil, err
		}
		return v, nil
	}, DefaultRetryOptions())
	if err != nil {
		return nil, err
	}
	if len(opts.Labels) == 0 {
		return issues, nil
	}
	var filtered []*Issue
	for _, issue := range issues {
		all := true
		for _, want := range opts.Labels {
			if !HasLabel(issue.Labels, want) {
				all = false
				break
			}
		}
		if all {
			filtered = append(filtered, issue)
		}
	}
	return filtered, nil
}

// ListLabels lists every label defined on the repository.
func (c *Client) ListLabels(ctx context.Context, repo string) ([]Label, error) {
	path := fmt.Sprintf("/repos/%s/labels", repo)
	return WithRetry(ctx, func() ([]Label, error) {
		var labels []Label
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &labels); err != nil {
			return nil, err
		}
		return labels, nil
	}, DefaultRetryOptions())
}

// CreateLabel creates a label; "already exists" (a validation failure, HTTP
// 422) is treated as success and never retried.
func (c *Client) CreateLabel(ctx context.Context, repo, name, color, desc string) error {
	path := fmt.Sprintf("/repos/%s/labels", repo)
	body := map[string]string{"name": name, "color": color, "description": desc}
	err := c.doRequest(ctx, http.MethodPost, path, body, nil)
	var fe *Error
	if err != nil {
		if e, ok := err.(*Error); ok {
			fe = e
		}
	}
	if fe != nil && fe.Status == http.StatusUnprocessableEntity {
		return nil
	}
	return err
}

// UpdateLabels unconditionally replaces an issue's label set, removing
// remove and adding add. Used only during bootstrap and dev one-shot paths
// — the control loop must use UpdateLabelsWithCheck.
func (c *Client) UpdateLabels(ctx context.Context, repo string, number int, remove, add []string) error {
	issue, err := c.GetIssue(ctx, repo, number)
	if err != nil {
		return err
	}
	next := nextLabelSet(issue.Labels, remove, add)
	return c.putLabels(ctx, repo, number, next)
}

func (c *Client) putLabels(ctx context.Context, repo string, number int, names []string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/labels", repo, number)
	body := map[string][]string{"labels": names}
	return WithRetryVoid(ctx, func() error {
		return c.doRequest(ctx, http.MethodPost, path, body, nil)
	}, DefaultRetryOptions())
}

func nextLabelSet(current []Label, remove, add []string) []string {
	removeSet := make(map[string]bool, len(remove))
	for _, r := range remove {
		removeSet[strings.ToLower(r)] = true
	}
	var next []string
	for _, l := range current {
		if !removeSet[strings.ToLower(l.Name)] {
			next = append(next, l.Name)
		}
	}
	for _, a := range add {
		if !containsFold(next, a) {
			next = append(next, a)
		}
	}
	return next
}

func containsFold(ss []string, s string) bool {
	for _, x := range ss {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

// UpdateLabelsWithCheck is the core CAS primitive: reads current labels; if
// from is absent or to is already present, returns false without writing.
// Otherwise writes (current - {from}) ∪ {to} and returns true.
//
// This is not atomic at the forge level — there is no compare-and-swap API
// to delegate to — so two racing callers can both observe from-present,
// to-absent and both write. That race is tolerated: writes converge on the
// same target label, and the single-active invariant has a second line of
// defense at the tick level (see the blocking package).
func (c *Client) UpdateLabelsWithCheck(ctx context.Context, repo string, number int, from, to string) (bool, error) {
	issue, err := c.GetIssue(ctx, repo, number)
	if err != nil {
		return false, err
	}
	if !HasLabel(issue.Labels, from) || HasLabel(issue.Labels, to) {
		return false, nil
	}
	next := nextLabelSet(issue.Labels, []string{from}, []string{to})
	if err := c.putLabels(ctx, repo, number, next); err != nil {
		return false, err
	}
	return true, nil
}

// GetIssue fetches a single issue by number.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	path := fmt.Sprintf("/repos/%s/issues/%d", repo, number)
	return WithRetry(ctx, func() (*Issue, error) {
		var issue Issue
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &issue); err != nil {
			return nil, err
		}
		return &issue, nil
	}, DefaultRetryOptions())
}

// AddComment posts a comment on an issue or pull request (forges share the
// issue-comment endpoint for both).
func (c *Client) AddComment(ctx context.Context, repo string, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number)
	return WithRetryVoid(ctx, func() error {
		return c.doRequest(ctx, http.MethodPost, path, map[string]string{"body": body}, nil)
	}, DefaultRetryOptions())
}

// CloseIssueWithLabel closes an issue then applies label in two non-atomic
// calls; if the second fails, the operator resolves the inconsistency.
func (c *Client) CloseIssueWithLabel(ctx context.Context, repo string, number int, label string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d", repo, number)
	err := WithRetryVoid(ctx, func() error {
		return c.doRequest(ctx, http.MethodPatch, path, map[string]string{"state": IssueStateClosed}, nil)
	}, DefaultRetryOptions())
	if err != nil {
		return err
	}
	return c.UpdateLabels(ctx, repo, number, nil, []string{label})
}

// SearchPRsWithLabels returns the open pull requests that carry every label
// in labels. It fetches the open pull requests and filters them client-side;
// the labels are not sent to the forge as a query filter.
func (c *Client) SearchPRsWithLabels(ctx context.Context, repo string, labels []string) ([]*PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/pulls?state=open", repo)
	prs, err := WithRetry(ctx, func() ([]*PullRequest, error) {
		var v []*PullRequest
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &v); err != nil {
			return nil, err
		}
		return v, nil
	}, DefaultRetryOptions())
	if err != nil {
		return nil, err
	}
	var matched []*PullRequest
	for _, pr := range prs {
		all := true
		for _, want := range labels {
			if !HasLabel(pr.Labels, want) {
				all = false
				break
			}
		}
		if all {
			matched = append(matched, pr)
		}
	}
	return matched, nil
}

// GetPR fetches a pull request by number.
func (c *Client) GetPR(ctx context.Context, repo string, number int) (*PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/pulls/%d", repo, number)
	return WithRetry(ctx, func() (*PullRequest, error) {
		var pr PullRequest
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &pr); err != nil {
			return nil, err
		}
		return &pr, nil
	}, DefaultRetryOptions())
}

// MergeResult is the outcome of MergePR.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// MergePR merges a pull request with the given method (default squash).
// Fails with KindMergeConflict when the forge reports the PR non-mergeable.
func (c *Client) MergePR(ctx context.Context, repo string, number int, method string) (*MergeResult, error) {
	if method == "" {
		method = "squash"
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d/merge", repo, number)
	var result MergeResult
	err := WithRetryVoid(ctx, func() error {
		return c.doRequest(ctx, http.MethodPut, path, map[string]string{"merge_method": method}, &result)
	}, DefaultRetryOptions())
	if err != nil {
		if fe, ok := err.(*Error); ok && fe.Status == http.StatusMethodNotAllowed {
			return nil, &Error{Kind: KindMergeConflict, Op: "merge_pr", Underlying: fe}
		}
		return nil, err
	}
	return &result, nil
}

var linkedIssueRe = regexp.MustCompile(`(?i)(?:fixes|closes|resolves)\s+#(\d+)`)

// PRLinkedIssue parses a pull request body for the first
// "(fixes|closes|resolves) #<n>" reference, case-insensitive. Returns 0 if
// none is found.
func PRLinkedIssue(pr *PullRequest) int {
	m := linkedIssueRe.FindStringSubmatch(pr.Body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
