// Package zabbix is the incident-source client. It speaks the monitoring
// API's JSON-RPC dialect and converts raw payloads into typed records at
// this boundary, so the rest of the system never touches string maps.
package zabbix

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/callout/internal/models"
)

// Config holds the monitoring API connection settings.
type Config struct {
	URL         string
	Token       string
	InsecureTLS bool // the API often sits behind a self-signed cert
	Timeout     time.Duration
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("zabbix URL is required")
	}
	if c.Token == "" {
		return fmt.Errorf("zabbix API token is required")
	}
	return nil
}

// Client is a Zabbix JSON-RPC API client.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a client for the monitoring API.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid zabbix config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport
	if config.InsecureTLS {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("api error %d: %s %s", e.Code, e.Message, e.Data)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Auth:    c.config.Token,
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: status %d, body: %s", method, resp.StatusCode, string(b))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Problem is an open problem event as reported by the source.
type Problem struct {
	EventID      string
	SeverityCode int
	Name         string
	RaisedAt     time.Time
	Resolved     bool
}

// problemWire is the raw payload; the API reports every field as a string.
type problemWire struct {
	EventID       string `json:"eventid"`
	Severity      string `json:"severity"`
	Name          string `json:"name"`
	Clock         string `json:"clock"`
	RecoveryClock string `json:"r_clock"`
}

// OpenProblems returns the current recent problem set, typed and
// validated. Rows with unparsable identifiers or clocks are dropped.
func (c *Client) OpenProblems(ctx context.Context) ([]Problem, error) {
	params := map[string]any{
		"recent":    true,
		"output":    []string{"objectid", "eventid", "severity", "name", "acknowledged", "clock", "r_clock"},
		"sortfield": []string{"eventid"},
		"sortorder": "ASC",
	}

	var wire []problemWire
	if err := c.call(ctx, "problem.get", params, &wire); err != nil {
		return nil, err
	}

	problems := make([]Problem, 0, len(wire))
	for _, w := range wire {
		if w.EventID == "" {
			continue
		}
		clock, err := strconv.ParseInt(w.Clock, 10, 64)
		if err != nil {
			continue
		}
		severity, err := strconv.Atoi(w.Severity)
		if err != nil {
			continue
		}
		problems = append(problems, Problem{
			EventID:      w.EventID,
			SeverityCode: severity,
			Name:         w.Name,
			RaisedAt:     time.Unix(clock, 0),
			Resolved:     w.RecoveryClock != "" && w.RecoveryClock != "0",
		})
	}
	return problems, nil
}

// Tag is a key/value tag attached to an event.
type Tag struct {
	Key   string `json:"tag"`
	Value string `json:"value"`
}

// Tags is the tag set of a single event.
type Tags []Tag

// HasNotification reports whether the event opts into the given
// notification channel, matching key and value case-insensitively.
func (t Tags) HasNotification(key, channel string) bool {
	for _, tag := range t {
		if strings.EqualFold(tag.Key, key) && strings.EqualFold(tag.Value, channel) {
			return true
		}
	}
	return false
}

// Assignee returns the responsible-party username carried by the given
// tag key, or "" when the tag is absent.
func (t Tags) Assignee(key string) string {
	for _, tag := range t {
		if strings.EqualFold(tag.Key, key) {
			return strings.TrimSpace(tag.Value)
		}
	}
	return ""
}

type taggedEventWire struct {
	Tags []Tag `json:"tags"`
}

// EventTags fetches the tags of a single event. An event without tags
// yields an empty set, not an error.
func (c *Client) EventTags(ctx context.Context, eventID string) (Tags, error) {
	params := map[string]any{
		"output":     "extend",
		"eventids":   eventID,
		"selectTags": "extend",
	}

	var wire []taggedEventWire
	if err := c.call(ctx, "event.get", params, &wire); err != nil {
		return nil, err
	}
	if len(wire) == 0 {
		return Tags{}, nil
	}
	return Tags(wire[0].Tags), nil
}

type hostedEventWire struct {
	Hosts []struct {
		Host string `json:"host"`
		Name string `json:"name"`
	} `json:"hosts"`
}

// EventHosts fetches the hosts associated with an event. An empty result
// is a valid, non-error outcome; the caller retries next cycle.
func (c *Client) EventHosts(ctx context.Context, eventID string) ([]models.Host, error) {
	params := map[string]any{
		"eventids":    eventID,
		"selectHosts": []string{"host", "name", "description"},
		"output":      []string{"eventid", "value"},
		"sortorder":   "DESC",
	}

	var wire []hostedEventWire
	if err := c.call(ctx, "event.get", params, &wire); err != nil {
		return nil, err
	}

	var hosts []models.Host
	for _, ev := range wire {
		for _, h := range ev.Hosts {
			hosts = append(hosts, models.Host{Hostname: h.Host, VisibleName: h.Name})
		}
	}
	return hosts, nil
}

// Ping verifies the API endpoint is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	params := map[string]any{
		"output":      []string{"eventid"},
		"limit":       1,
		"countOutput": false,
	}
	var out json.RawMessage
	return c.call(ctx, "problem.get", params, &out)
}
