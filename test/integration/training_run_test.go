package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shufflestore/internal/cluster"
)

// TestSystem runs the real binaries: one coordinator and a set of node
// processes training on a samplegen dataset.
type TestSystem struct {
	t          *testing.T
	bin        string
	data       string
	coord      *exec.Cmd
	coordAddr  string
	nodes      []*exec.Cmd
	httpClient *http.Client
}

// NewTestSystem builds the binaries into a temporary directory.
func NewTestSystem(t *testing.T) *TestSystem {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping process-level test in short mode")
	}
	ts := &TestSystem{
		t:          t,
		bin:        t.TempDir(),
		data:       t.TempDir(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, name := range []string{"coordinator", "node", "samplegen"} {
		t.Logf("Building %s binary...", name)
		out, err := exec.Command("go", "build", "-o", filepath.Join(ts.bin, name), "../../cmd/"+name).CombinedOutput()
		require.NoError(t, err, "build %s: %s", name, out)
	}
	t.Cleanup(ts.Stop)
	return ts
}

// Generate writes a dataset of samples x sources records.
func (ts *TestSystem) Generate(samples, sources int) {
	ts.t.Helper()
	out, err := exec.Command(filepath.Join(ts.bin, "samplegen"), "files",
		"--dir", ts.data,
		"--samples", fmt.Sprint(samples),
		"--sources", fmt.Sprint(sources),
		"--max-size", "512",
	).CombinedOutput()
	require.NoError(ts.t, err, "samplegen: %s", out)
}

// StartCoordinator launches the coordinator for a group of world ranks.
func (ts *TestSystem) StartCoordinator(world int) {
	ts.t.Helper()
	port := freePort(ts.t)
	ts.coordAddr = fmt.Sprintf("http://127.0.0.1:%d", port)
	ts.coord = exec.Command(filepath.Join(ts.bin, "coordinator"),
		"--listen", fmt.Sprintf("127.0.0.1:%d", port),
		"--world", fmt.Sprint(world),
		"--health-interval", "200ms",
	)
	ts.coord.Stdout = os.Stdout
	ts.coord.Stderr = os.Stderr
	require.NoError(ts.t, ts.coord.Start())
	require.NoError(ts.t, ts.waitForService(ts.coordAddr+"/health"))
}

// StartNode launches one node training for epochs epochs.
func (ts *TestSystem) StartNode(id string, samples, sources, epochs int, extra ...string) *exec.Cmd {
	ts.t.Helper()
	port := freePort(ts.t)
	args := append([]string{
		"--id", id,
		"--listen", fmt.Sprintf("127.0.0.1:%d", port),
		"--addr", fmt.Sprintf("http://127.0.0.1:%d", port),
		"--coordinator", ts.coordAddr,
		"--register-interval", "100ms",
		"--samples", fmt.Sprint(samples),
		"--sources", fmt.Sprint(sources),
		"--manifest", filepath.Join(ts.data, "manifest.txt"),
		"--epochs", fmt.Sprint(epochs),
		"--batch-size", "4",
		"--verify",
	}, extra...)
	node := exec.Command(filepath.Join(ts.bin, "node"), args...)
	node.Stdout = os.Stdout
	node.Stderr = os.Stderr
	require.NoError(ts.t, node.Start())
	ts.nodes = append(ts.nodes, node)
	return node
}

// Stop kills whatever is still running.
func (ts *TestSystem) Stop() {
	for _, node := range ts.nodes {
		if node.Process != nil && node.ProcessState == nil {
			_ = node.Process.Kill()
			_ = node.Wait()
		}
	}
	if ts.coord != nil && ts.coord.Process != nil {
		ts.t.Log("Stopping coordinator...")
		_ = ts.coord.Process.Kill()
		_ = ts.coord.Wait()
	}
}

// Group fetches the coordinator's view of the group.
func (ts *TestSystem) Group() (cluster.GroupView, error) {
	var view cluster.GroupView
	resp, err := ts.httpClient.Get(ts.coordAddr + "/group")
	if err != nil {
		return view, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&view)
	return view, err
}

func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := ts.httpClient.Get(url)
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				return nil
			}
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// waitExit waits for cmd to exit, failing the test after timeout.
func waitExit(t *testing.T, cmd *exec.Cmd, timeout time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		t.Fatalf("%s did not exit within %s", cmd.Path, timeout)
		return nil
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestTrainingRun tests a three-rank run from dataset generation to the
// last epoch
func TestTrainingRun(t *testing.T) {
	const (
		world   = 3
		samples = 50
		sources = 2
	)
	ts := NewTestSystem(t)
	ts.Generate(samples, sources)
	ts.StartCoordinator(world)

	var nodes []*exec.Cmd
	for i := 0; i < world; i++ {
		nodes = append(nodes, ts.StartNode(fmt.Sprintf("n%d", i), samples, sources, 3))
	}
	for i, node := range nodes {
		assert.NoError(t, waitExit(t, node, 60*time.Second), "node %d", i)
	}

	view, err := ts.Group()
	require.NoError(t, err)
	assert.True(t, view.Ready)
	assert.Len(t, view.Members, world)
	for r, m := range view.Members {
		assert.Equal(t, r, m.Rank)
	}
}

// TestIncompleteGroup tests that nodes give up when a rank never joins
func TestIncompleteGroup(t *testing.T) {
	ts := NewTestSystem(t)
	ts.Generate(8, 1)
	ts.StartCoordinator(3)

	nodes := []*exec.Cmd{
		ts.StartNode("n0", 8, 1, 1, "--join-timeout", "1s"),
		ts.StartNode("n1", 8, 1, 1, "--join-timeout", "1s"),
	}
	for i, node := range nodes {
		err := waitExit(t, node, 30*time.Second)
		var exitErr *exec.ExitError
		assert.ErrorAs(t, err, &exitErr, "node %d", i)
	}

	view, err := ts.Group()
	require.NoError(t, err)
	assert.False(t, view.Ready)
	assert.Len(t, view.Members, 2)
}
