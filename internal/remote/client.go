package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/models"
)

// ClientConfig holds the backend endpoint and credentials.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
}

// Client is a PostgREST-style REST client.
type Client struct {
	baseURL     *url.URL
	apiKey      string
	accessToken string
	http        *http.Client
}

// maxErrorBody bounds how much of an error response ends up in messages.
const maxErrorBody = 512

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, apperrors.New(apperrors.ErrConfig, "remote base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrConfig, "invalid remote base URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		http:        &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) endpoint(table string, query url.Values) string {
	u := *c.baseURL
	u.Path = u.Path + "/rest/v1/" + url.PathEscape(table)
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	token := c.accessToken
	if token == "" {
		token = c.apiKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, what string) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Remote(0, what+": request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("%s: backend returned %d", what, resp.StatusCode)
		if s := strings.TrimSpace(string(snippet)); s != "" {
			msg += ": " + s
		}
		return nil, apperrors.Remote(resp.StatusCode, msg, nil)
	}
	return resp, nil
}

// Update sends PATCH /rest/v1/{table}?id=eq.{recordID}.
func (c *Client) Update(ctx context.Context, table, recordID string, patch models.Patch) error {
	body, err := json.Marshal(patch.Plain())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode patch", err)
	}

	query := url.Values{}
	query.Set("id", "eq."+recordID)
	req, err := c.newRequest(ctx, http.MethodPatch, c.endpoint(table, query), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.do(req, "update "+table)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListTasks fetches the tasks assigned to assignee that are not completed.
func (c *Client) ListTasks(ctx context.Context, assignee string) ([]models.Task, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("assigned_to", "eq."+assignee)
	query.Set("status", "neq."+string(models.TaskStatusCompleted))
	query.Set("order", "due_date.asc.nullslast")

	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(models.TableTasks, query), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req, "list tasks")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tasks []models.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, apperrors.Remote(resp.StatusCode, "list tasks: invalid response body", err)
	}
	return tasks, nil
}
