// Package agent is the client for the conversational agent backend: it
// starts, stops and keeps alive the agent of a channel and lists the
// selectable conversation graphs.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"avatar-control-service/internal/observability/metrics"
)

// CodeCapacityExceeded is the backend code for "too many concurrent users".
const CodeCapacityExceeded = "10001"

// ErrCapacityExceeded is matched by an *APIError carrying CodeCapacityExceeded.
var ErrCapacityExceeded = errors.New("agent capacity exceeded, try again later")

// APIError is a non-zero code in a backend response envelope.
type APIError struct {
	Op   string
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent %s: code:%s,msg:%s", e.Op, e.Code, e.Msg)
}

// Is lets errors.Is(err, ErrCapacityExceeded) match the capacity code.
func (e *APIError) Is(target error) bool {
	return target == ErrCapacityExceeded && e.Code == CodeCapacityExceeded
}

// StartRequest starts the agent of one channel.
type StartRequest struct {
	Channel   string
	UserID    string
	GraphName string
	Language  string
	VoiceType string
}

type startBody struct {
	RequestID   string `json:"request_id"`
	ChannelName string `json:"channel_name"`
	UserUID     string `json:"user_uid,omitempty"`
	GraphName   string `json:"graph_name"`
	Language    string `json:"language,omitempty"`
	VoiceType   string `json:"voice_type,omitempty"`
}

type channelBody struct {
	RequestID   string `json:"request_id"`
	ChannelName string `json:"channel_name"`
}

// envelope is the backend's {code, msg, data} response. code arrives as a
// string or a number depending on the endpoint.
type envelope struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e envelope) code() string {
	return strings.Trim(strings.TrimSpace(string(e.Code)), `"`)
}

// Client calls the agent backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	m       *metrics.Metrics
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		m:       metrics.DefaultMetrics,
	}
}

// Start starts the agent for req.Channel.
func (c *Client) Start(ctx context.Context, req StartRequest) error {
	body := startBody{
		RequestID:   uuid.NewString(),
		ChannelName: req.Channel,
		UserUID:     req.UserID,
		GraphName:   req.GraphName,
		Language:    req.Language,
		VoiceType:   req.VoiceType,
	}
	_, err := c.do(ctx, "start", http.MethodPost, "/start", body)
	return err
}

// Stop stops the agent of channel.
func (c *Client) Stop(ctx context.Context, channel string) error {
	_, err := c.do(ctx, "stop", http.MethodPost, "/stop", channelBody{RequestID: uuid.NewString(), ChannelName: channel})
	return err
}

// Ping keeps the agent of channel alive. A nil error means the agent is running.
func (c *Client) Ping(ctx context.Context, channel string) error {
	_, err := c.do(ctx, "ping", http.MethodPost, "/ping", channelBody{RequestID: uuid.NewString(), ChannelName: channel})
	return err
}

// Graphs lists the selectable conversation graphs.
func (c *Client) Graphs(ctx context.Context) ([]Graph, error) {
	data, err := c.do(ctx, "graphs", http.MethodGet, "/graphs", nil)
	if err != nil {
		return nil, err
	}
	var graphs []Graph
	if len(data) == 0 || string(data) == "null" {
		return graphs, nil
	}
	if err := json.Unmarshal(data, &graphs); err != nil {
		return nil, fmt.Errorf("agent graphs: decode: %w", err)
	}
	return graphs, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	start := time.Now()
	data, err := c.roundTrip(ctx, op, method, path, body)
	c.m.RecordAgentRequest(op, err, time.Since(start).Seconds())
	return data, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("agent %s: encode: %w", op, err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("agent %s: read body: %w", op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("agent %s: http %d", op, resp.StatusCode)
		}
		return nil, fmt.Errorf("agent %s: decode: %w", op, err)
	}
	if code := env.code(); code != "" && code != "0" {
		return nil, &APIError{Op: op, Code: code, Msg: env.Msg}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("agent %s: http %d: %s", op, resp.StatusCode, env.Msg)
	}
	return env.Data, nil
}
