package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/blazeload/blaze/internal/engine/events"
)

// RemoteDownloadService implements DownloadService for a remote daemon.
type RemoteDownloadService struct {
	BaseURL string
	Token   string
	Client  *http.Client
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRemoteDownloadService creates a new remote service instance.
func NewRemoteDownloadService(baseURL string, token string) *RemoteDownloadService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteDownloadService{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 30 * time.Second},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddRequest is the body of POST /api/downloads.
type AddRequest struct {
	URL             string `json:"url"`
	FileName        string `json:"fileName,omitempty"`
	TargetDirectory string `json:"targetDirectory,omitempty"`
	Connections     int    `json:"connections,omitempty"`
}

func (s *RemoteDownloadService) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, s.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+s.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		// Limit error body read to 1KB
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	return resp, nil
}

// doJSON performs a request and decodes the response body into out, if non-nil.
func (s *RemoteDownloadService) doJSON(method, path string, body, out any) error {
	resp, err := s.doRequest(method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// List returns a snapshot of all buckets.
func (s *RemoteDownloadService) List() (Snapshot, error) {
	var snap Snapshot
	err := s.doJSON(http.MethodGet, "/api/downloads", nil, &snap)
	return snap, err
}

// Add queues a new download.
func (s *RemoteDownloadService) Add(rawURL string, dir string, filename string, connections int) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	err := s.doJSON(http.MethodPost, "/api/downloads", AddRequest{
		URL:             rawURL,
		FileName:        filename,
		TargetDirectory: dir,
		Connections:     connections,
	}, &result)
	return result.ID, err
}

func (s *RemoteDownloadService) jobAction(id, action string) error {
	return s.doJSON(http.MethodPost, "/api/downloads/"+url.PathEscape(id)+"/"+action, nil, nil)
}

// Pause pauses a single download.
func (s *RemoteDownloadService) Pause(id string) error { return s.jobAction(id, "pause") }

// Resume resumes a paused download.
func (s *RemoteDownloadService) Resume(id string) error { return s.jobAction(id, "resume") }

// Stop cancels a download.
func (s *RemoteDownloadService) Stop(id string) error { return s.jobAction(id, "stop") }

// PauseAll pauses every downloading or waiting job.
func (s *RemoteDownloadService) PauseAll() (BulkResult, error) {
	var res BulkResult
	err := s.doJSON(http.MethodPost, "/api/downloads/pause-all", nil, &res)
	return res, err
}

// StopAll stops every downloading or waiting job.
func (s *RemoteDownloadService) StopAll() (BulkResult, error) {
	var res BulkResult
	err := s.doJSON(http.MethodPost, "/api/downloads/stop-all", nil, &res)
	return res, err
}

// ClearHistory removes finished jobs.
func (s *RemoteDownloadService) ClearHistory() (int, error) {
	var res struct {
		Removed int `json:"removed"`
	}
	err := s.doJSON(http.MethodDelete, "/api/downloads/history", nil, &res)
	return res.Removed, err
}

// Shutdown stops the service.
func (s *RemoteDownloadService) Shutdown() error {
	s.cancel()
	return nil
}

// StreamEvents returns a channel that receives update notifications via SSE.
// The stream reconnects with backoff until ctx ends or cleanup is called.
func (s *RemoteDownloadService) StreamEvents(ctx context.Context) (<-chan events.UpdatedMsg, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			stop()
			cancel()
		})
	}

	ch := make(chan events.UpdatedMsg, listenerBuffer)
	go s.streamWithReconnect(ctx, ch)
	return ch, cleanup, nil
}

func (s *RemoteDownloadService) streamWithReconnect(ctx context.Context, ch chan events.UpdatedMsg) {
	defer close(ch)
	backoff := 1 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectSSE(ctx, ch)
		if err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *RemoteDownloadService) connectSSE(ctx context.Context, ch chan events.UpdatedMsg) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/events", nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The shared client has a timeout that would cut the stream.
	streamClient := &http.Client{Transport: s.Client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to connect to event stream: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && event == "updated":
			var msg events.UpdatedMsg
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				continue
			}
			// Non-blocking send
			select {
			case ch <- msg:
			default:
			}
		case line == "":
			event = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
