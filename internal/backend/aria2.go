package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/blazeload/blaze/internal/engine/types"
	"github.com/blazeload/blaze/internal/utils"
)

// listWindow bounds tellWaiting/tellStopped. Entries past it are simply not reported.
const listWindow = 1000

var statusKeys = []string{"gid", "status", "totalLength", "completedLength", "downloadSpeed"}

// Aria2Client drives aria2 through its JSON-RPC interface.
type Aria2Client struct {
	Endpoint string
	Secret   string
	Client   *http.Client

	seq atomic.Uint64
}

// NewAria2Client creates a client for the JSON-RPC endpoint at endpoint,
// e.g. http://127.0.0.1:6800/jsonrpc.
func NewAria2Client(endpoint, secret string, timeout time.Duration) *Aria2Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Aria2Client{
		Endpoint: endpoint,
		Secret:   secret,
		Client:   &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one JSON-RPC request and decodes the result into out (which may be nil).
func (c *Aria2Client) call(ctx context.Context, method string, out any, params ...any) error {
	if c.Secret != "" {
		params = append([]any{"token:" + c.Secret}, params...)
	}
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "blaze-" + strconv.FormatUint(c.seq.Add(1), 10),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return &ConnectivityError{Op: method, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	// aria2 answers errors with 400 and a JSON body, so decode first.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &ConnectivityError{Op: method, Err: err}
	}

	var r rpcResponse
	if err := json.Unmarshal(data, &r); err != nil {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusNotFound {
			return &ConnectivityError{Op: method, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		}
		return fmt.Errorf("%s: decode response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if r.Error != nil {
		return &RPCError{Method: method, Code: r.Error.Code, Message: r.Error.Message}
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Submit adds a URI download and returns its GID.
func (c *Aria2Client) Submit(ctx context.Context, r SubmitRequest) (string, error) {
	opts := map[string]string{}
	if r.Dir != "" {
		opts["dir"] = r.Dir
	}
	if r.Filename != "" {
		opts["out"] = r.Filename
	}
	if r.Connections > 0 {
		n := strconv.Itoa(r.Connections)
		opts["split"] = n
		opts["max-connection-per-server"] = n
	}

	var gid string
	if err := c.call(ctx, "aria2.addUri", &gid, []string{r.URL}, opts); err != nil {
		return "", err
	}
	utils.Debug("aria2: submitted %s as %s", r.URL, gid)
	return gid, nil
}

// Pause pauses a download. Unknown GIDs are ignored.
func (c *Aria2Client) Pause(ctx context.Context, gid string) error {
	return ignoreNotFound(c.call(ctx, "aria2.pause", nil, gid))
}

// Resume unpauses a download.
func (c *Aria2Client) Resume(ctx context.Context, gid string) error {
	return c.call(ctx, "aria2.unpause", nil, gid)
}

// Cancel removes a download. Unknown GIDs are ignored.
func (c *Aria2Client) Cancel(ctx context.Context, gid string) error {
	return ignoreNotFound(c.call(ctx, "aria2.remove", nil, gid))
}

type aria2Status struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
}

func (s aria2Status) toStatus() types.BackendStatus {
	return types.BackendStatus{
		ExternalID: s.GID,
		TotalBytes: parseCount(s.TotalLength),
		DoneBytes:  parseCount(s.CompletedLength),
		Speed:      parseCount(s.DownloadSpeed),
		RawState:   s.Status,
	}
}

// ListStatuses concatenates the active, waiting and stopped listings.
func (c *Aria2Client) ListStatuses(ctx context.Context) ([]types.BackendStatus, error) {
	var active, waiting, stopped []aria2Status
	if err := c.call(ctx, "aria2.tellActive", &active, statusKeys); err != nil {
		return nil, err
	}
	if err := c.call(ctx, "aria2.tellWaiting", &waiting, 0, listWindow, statusKeys); err != nil {
		return nil, err
	}
	if err := c.call(ctx, "aria2.tellStopped", &stopped, 0, listWindow, statusKeys); err != nil {
		return nil, err
	}

	out := make([]types.BackendStatus, 0, len(active)+len(waiting)+len(stopped))
	for _, group := range [][]aria2Status{active, waiting, stopped} {
		for _, s := range group {
			out = append(out, s.toStatus())
		}
	}
	return out, nil
}

// ResolveLocalPath returns the absolute path of the first file of a download.
func (c *Aria2Client) ResolveLocalPath(ctx context.Context, gid string) (string, error) {
	var files []struct {
		Path string `json:"path"`
	}
	if err := c.call(ctx, "aria2.getFiles", &files, gid); err != nil {
		return "", err
	}
	if len(files) == 0 || files[0].Path == "" {
		return "", fmt.Errorf("aria2.getFiles: no files reported for %s", gid)
	}
	return filepath.Abs(files[0].Path)
}

func ignoreNotFound(err error) error {
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
