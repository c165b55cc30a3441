package openlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// API paths for filesystem operations.
const (
	pathMove   = "/api/fs/move"
	pathCopy   = "/api/fs/copy"
	pathRemove = "/api/fs/remove"
	pathList   = "/api/fs/list"
	pathGet    = "/api/fs/get"
)

// Object is a file or directory entry as returned by list and get.
type Object struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Modified time.Time `json:"modified"`
	Sign     string    `json:"sign"`
	RawURL   string    `json:"raw_url"`
}

// MoveRequest describes a batch move of names from SrcDir into DstDir.
type MoveRequest struct {
	SrcDir    string   `json:"src_dir"`
	DstDir    string   `json:"dst_dir"`
	Names     []string `json:"names"`
	Overwrite bool     `json:"overwrite,omitempty"`
}

// MoveResult carries the asynchronous task ids the server queued for a
// move. Storage drivers that move synchronously return no ids.
type MoveResult struct {
	TaskIDs []string
}

type taskRef struct {
	ID string `json:"id"`
}

type moveData struct {
	Tasks []taskRef `json:"tasks"`
}

// Move moves names from SrcDir to DstDir. An existing target without
// Overwrite yields an error matching ErrConflict. Never retried: a lost
// response must not re-issue the move.
func (c *Client) Move(ctx context.Context, req MoveRequest) (*MoveResult, error) {
	var data moveData
	if err := c.post(ctx, pathMove, req, &data, false); err != nil {
		return nil, fmt.Errorf("openlist: moving %v from %s to %s: %w", req.Names, req.SrcDir, req.DstDir, err)
	}

	result := &MoveResult{}

	for _, t := range data.Tasks {
		if t.ID != "" {
			result.TaskIDs = append(result.TaskIDs, t.ID)
		}
	}

	c.logger.Debug("move accepted",
		slog.String("src_dir", req.SrcDir),
		slog.String("dst_dir", req.DstDir),
		slog.Bool("overwrite", req.Overwrite),
		slog.Int("tasks", len(result.TaskIDs)),
	)

	return result, nil
}

// Copy copies names from srcDir to dstDir on the server side.
func (c *Client) Copy(ctx context.Context, srcDir, dstDir string, names []string) error {
	body := map[string]any{"src_dir": srcDir, "dst_dir": dstDir, "names": names}

	if err := c.post(ctx, pathCopy, body, nil, false); err != nil {
		return fmt.Errorf("openlist: copying %v from %s to %s: %w", names, srcDir, dstDir, err)
	}

	return nil
}

// Remove deletes names from dir. Names that do not exist are not an error.
func (c *Client) Remove(ctx context.Context, dir string, names []string) error {
	body := map[string]any{"dir": dir, "names": names}

	err := c.post(ctx, pathRemove, body, nil, false)
	if err == nil || errors.Is(err, ErrNotFound) {
		return nil
	}

	return fmt.Errorf("openlist: removing %v from %s: %w", names, dir, err)
}

type listData struct {
	Content []Object `json:"content"`
	Total   int      `json:"total"`
}

// List returns the entries of dir. With refresh set the server bypasses its
// directory cache and re-reads the storage, which is what makes strm-capable
// drivers generate their descriptor files.
func (c *Client) List(ctx context.Context, dir string, refresh bool) ([]Object, error) {
	body := map[string]any{
		"path":     dir,
		"password": "",
		"page":     1,
		"per_page": 0,
		"refresh":  refresh,
	}

	var data listData
	if err := c.post(ctx, pathList, body, &data, true); err != nil {
		return nil, fmt.Errorf("openlist: listing %s: %w", dir, err)
	}

	return data.Content, nil
}

// Refresh forces the server to re-read dir from its backing storage.
func (c *Client) Refresh(ctx context.Context, dir string) error {
	_, err := c.List(ctx, dir, true)
	return err
}

// Get returns metadata for a single path. A missing path yields ErrNotFound.
func (c *Client) Get(ctx context.Context, p string) (*Object, error) {
	body := map[string]any{"path": p, "password": ""}

	var obj Object
	if err := c.post(ctx, pathGet, body, &obj, true); err != nil {
		return nil, fmt.Errorf("openlist: getting %s: %w", p, err)
	}

	return &obj, nil
}

// Download streams the content of the file at p into w and returns the
// number of bytes written. The object's raw_url is used when present;
// otherwise the server's /d/ download route is used.
func (c *Client) Download(ctx context.Context, p string, w io.Writer) (int64, error) {
	obj, err := c.Get(ctx, p)
	if err != nil {
		return 0, err
	}

	target := obj.RawURL
	if target == "" {
		target = c.baseURL + "/d" + escapePath(p)
		if obj.Sign != "" {
			target += "?sign=" + url.QueryEscape(obj.Sign)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("openlist: creating download request for %s: %w", p, err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	// Only authenticate against our own server; raw_url may point at a CDN.
	if strings.HasPrefix(target, c.baseURL) {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("openlist: downloading %s: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, fmt.Errorf("openlist: downloading %s: %w", p, httpError(resp.StatusCode, body))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("openlist: reading download body for %s: %w", p, err)
	}

	return n, nil
}

// escapePath percent-encodes each segment of an absolute API path.
func escapePath(p string) string {
	segments := strings.Split(path.Clean("/"+p), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return strings.Join(segments, "/")
}
