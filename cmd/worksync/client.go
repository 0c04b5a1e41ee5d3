package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitecrew/worksync/internal/config"
	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/models"
	"github.com/sitecrew/worksync/internal/mutation"
)

// queueCmd inspects the mutation queue of a running agent
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and flush the offline mutation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations in replay order",
	Args:  cobra.NoArgs,
	RunE:  queueList,
}

var queueLengthCmd = &cobra.Command{
	Use:   "length",
	Short: "Print the number of queued mutations",
	Args:  cobra.NoArgs,
	RunE:  queueLength,
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay the queue now",
	Args:  cobra.NoArgs,
	RunE:  queueFlush,
}

// connectivityCmd reads and pins the agent's connectivity
var connectivityCmd = &cobra.Command{
	Use:   "connectivity",
	Short: "Show or pin the agent's connectivity",
}

var connectivitySetCmd = &cobra.Command{
	Use:       "set <online|offline|auto>",
	Short:     "Pin the agent online or offline, or return to probing",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"online", "offline", "auto"},
	RunE:      connectivitySet,
}

var connectivityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show connectivity state",
	Args:  cobra.NoArgs,
	RunE:  connectivityShow,
}

// agentClient calls the local API of a running agent.
type agentClient struct {
	baseURL string
	http    *http.Client
}

func newAgentClient() (*agentClient, error) {
	base := serverURL
	if base == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		base = "http://" + cfg.Server.Addr
	}
	return &agentClient{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *agentClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "agent not reachable at "+c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if failure.Error == "" {
			failure.Error = resp.Status
		}
		return fmt.Errorf("agent: %s", failure.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func queueList(cmd *cobra.Command, args []string) error {
	client, err := newAgentClient()
	if err != nil {
		return err
	}

	var resp struct {
		Items []models.QueuedMutation `json:"items"`
	}
	if err := client.call(cmd.Context(), http.MethodGet, "/api/queue", nil, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Items) == 0 {
		fmt.Fprintln(out, "queue is empty")
		return nil
	}
	for i, m := range resp.Items {
		fmt.Fprintf(out, "%d. %s %s/%s %v (%s)\n", i+1, m.ID, m.Table, m.RecordID,
			m.Patch.Plain(), m.EnqueuedAt().Format(time.RFC3339))
	}
	return nil
}

func queueLength(cmd *cobra.Command, args []string) error {
	client, err := newAgentClient()
	if err != nil {
		return err
	}

	var resp struct {
		Length int `json:"length"`
	}
	if err := client.call(cmd.Context(), http.MethodGet, "/api/queue", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Length)
	return nil
}

func queueFlush(cmd *cobra.Command, args []string) error {
	client, err := newAgentClient()
	if err != nil {
		return err
	}

	var res mutation.FlushResult
	if err := client.call(cmd.Context(), http.MethodPost, "/api/queue/flush", nil, &res); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "succeeded=%d failed=%d skipped=%d remaining=%d\n",
		res.Succeeded, res.Failed, res.Skipped, res.Remaining)
	return nil
}

func connectivitySet(cmd *cobra.Command, args []string) error {
	client, err := newAgentClient()
	if err != nil {
		return err
	}

	var resp struct {
		Online bool   `json:"online"`
		Mode   string `json:"mode"`
	}
	body := map[string]string{"mode": args[0]}
	if err := client.call(cmd.Context(), http.MethodPut, "/api/connectivity", body, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mode=%s online=%t\n", resp.Mode, resp.Online)
	return nil
}

func connectivityShow(cmd *cobra.Command, args []string) error {
	client, err := newAgentClient()
	if err != nil {
		return err
	}

	var resp struct {
		Online      bool   `json:"online"`
		Mode        string `json:"mode"`
		QueueLength int    `json:"queue_length"`
	}
	if err := client.call(cmd.Context(), http.MethodGet, "/api/connectivity", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mode=%s online=%t queue_length=%d\n", resp.Mode, resp.Online, resp.QueueLength)
	return nil
}
