package cluster

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGroupViewJSON checks the wire names nodes rely on when polling /group
func TestGroupViewJSON(t *testing.T) {
	view := GroupView{
		RunID:     "run-1",
		WorldSize: 2,
		Ready:     true,
		Members: []Member{
			{ID: "n1", Addr: "http://127.0.0.1:8081", Rank: 0},
			{ID: "n2", Addr: "http://127.0.0.1:8082", Rank: 1},
		},
	}

	data, err := json.Marshal(view)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "run-1", raw["run_id"])
	assert.Equal(t, float64(2), raw["world_size"])
	assert.Equal(t, true, raw["ready"])
	assert.NotContains(t, raw, "failed", "failed is omitted when empty")

	var decoded GroupView
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, view, decoded)
}

func TestControlMessageJSON(t *testing.T) {
	msg := ControlMessage{Type: ControlAbort, Rank: 3, Reason: "rank 3 unhealthy"}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"abort","rank":3,"reason":"rank 3 unhealthy"}`, string(data))
}

// TestPostJSON tests PostJSON against status codes and timeouts
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		out         any
		delay       time.Duration
		timeout     time.Duration
		expectError bool
	}{
		{name: "success with body", status: http.StatusOK, body: `{"run_id":"abc"}`, out: &RegisterResponse{}},
		{name: "success without body", status: http.StatusNoContent},
		{name: "conflict", status: http.StatusConflict, expectError: true},
		{name: "server error", status: http.StatusInternalServerError, expectError: true},
		{name: "context timeout", status: http.StatusOK, delay: 100 * time.Millisecond, timeout: time.Millisecond, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				time.Sleep(tt.delay)
				w.WriteHeader(tt.status)
				if tt.body != "" {
					_, _ = w.Write([]byte(tt.body))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, RegisterRequest{Node: NodeInfo{ID: "n1"}}, tt.out)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if resp, ok := tt.out.(*RegisterResponse); ok {
				assert.Equal(t, "abc", resp.RunID)
			}
		})
	}
}

func TestPostJSONUnmarshalableBody(t *testing.T) {
	err := PostJSON(context.Background(), "http://127.0.0.1:1", make(chan int), nil)
	assert.Error(t, err)
}

// TestGetJSON tests GetJSON decoding and error statuses
func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/group" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(GroupView{RunID: "r", WorldSize: 1, Ready: true})
	}))
	defer server.Close()

	var view GroupView
	require.NoError(t, GetJSON(context.Background(), server.URL+"/group", &view))
	assert.True(t, view.Ready)
	assert.Equal(t, 1, view.WorldSize)

	err := GetJSON(context.Background(), server.URL+"/missing", &view)
	assert.Error(t, err)
}

// TestPostBytes tests raw payload delivery used by the point-to-point transport
func TestPostBytes(t *testing.T) {
	var got []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		got, _ = io.ReadAll(r.Body)
		if len(got) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	payload := []byte{0x00, 0xff, 0x10, 0x20}
	require.NoError(t, PostBytes(context.Background(), nil, server.URL, payload))
	assert.Equal(t, payload, got)

	err := PostBytes(context.Background(), server.Client(), server.URL, nil)
	assert.Error(t, err, "empty body rejected by server")

	err = PostBytes(context.Background(), nil, "http://localhost:99999", payload)
	assert.Error(t, err, "unreachable server")
}
