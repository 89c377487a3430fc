package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NodeInfo identifies a node process before it has a rank.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Member is a node that holds a rank in the group.
type Member struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
	Rank int    `json:"rank"`
}

type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

type RegisterResponse struct {
	RunID  string `json:"run_id"`
	Member Member `json:"member"`
}

// GroupView is the coordinator's picture of the group. Ranks may start the
// store only once Ready is true; a non-empty Failed means the run is over.
type GroupView struct {
	RunID     string   `json:"run_id"`
	Members   []Member `json:"members"`
	Failed    []int    `json:"failed,omitempty"`
	WorldSize int      `json:"world_size"`
	Ready     bool     `json:"ready"`
}

// Control message types sent by the coordinator to nodes.
const (
	ControlAbort = "abort"
)

type ControlMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	Rank   int    `json:"rank"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostBytes posts a raw octet-stream body with the given client. A nil
// client uses the package default.
func PostBytes(ctx context.Context, client *http.Client, url string, body []byte) error {
	if client == nil {
		client = httpClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return nil
}
