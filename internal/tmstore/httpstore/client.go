// Package httpstore talks to a TM store exposed over HTTP by NewHandler.
package httpstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tmengine/internal/model"
	"tmengine/internal/tmstore"
)

// Client is a TM store backed by a remote HTTP server.
type Client struct {
	info    tmstore.Info
	baseURL string
	http    *http.Client
	// upload streams write sessions; it has no overall timeout and is
	// bounded by the caller's context instead.
	upload *http.Client
}

var _ tmstore.Store = (*Client)(nil)

// NewClient creates a store client for the server at baseURL. A nil
// httpClient uses a client with a 60 second timeout. The timeout applies to
// reads only; uploads last as long as their write session.
func NewClient(id, baseURL string, access tmstore.Access, partitioning tmstore.Partitioning, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid store url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	upload := *httpClient
	upload.Timeout = 0
	return &Client{
		info:    tmstore.Info{ID: id, Type: "http", Access: access, Partitioning: partitioning},
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		upload:  &upload,
	}, nil
}

// Info returns the store description.
func (c *Client) Info() tmstore.Info {
	return c.info
}

// Ping checks that the remote store answers.
func (c *Client) Ping(ctx context.Context) error {
	var info tmstore.Info
	return c.getJSON(ctx, c.url("info"), &info)
}

func (c *Client) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) pairURL(sourceLang, targetLang string, parts ...string) string {
	return c.url(append([]string{sourceLang, targetLang}, parts...)...)
}

// AvailableLangPairs lists the pairs held by the remote store.
func (c *Client) AvailableLangPairs(ctx context.Context) ([]model.LangPair, error) {
	var pairs []model.LangPair
	if err := c.getJSON(ctx, c.url("pairs"), &pairs); err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	return pairs, nil
}

// TOC fetches the pair's table of contents.
func (c *Client) TOC(ctx context.Context, sourceLang, targetLang string) (*model.TOC, error) {
	toc := model.NewTOC()
	if err := c.getJSON(ctx, c.pairURL(sourceLang, targetLang, "toc"), toc); err != nil {
		return nil, fmt.Errorf("failed to fetch toc: %w", err)
	}
	if toc.Blocks == nil {
		toc.Blocks = make(map[string]*model.TOCBlock)
	}
	return toc, nil
}

// Blocks fetches blocks one request at a time as the sequence is pulled.
func (c *Client) Blocks(ctx context.Context, sourceLang, targetLang string, blockIDs []string) iter.Seq2[*model.Block, error] {
	return func(yield func(*model.Block, error) bool) {
		for _, id := range blockIDs {
			var block model.Block
			if err := c.getJSON(ctx, c.pairURL(sourceLang, targetLang, "blocks", id), &block); err != nil {
				yield(nil, fmt.Errorf("failed to fetch block %s: %w", id, err))
				return
			}
			if !yield(&block, nil) {
				return
			}
		}
	}
}

// Writer streams every block written by body in a single upload, so the
// server applies them in one write session. The upload is completed or
// aborted on every exit path of body.
func (c *Client) Writer(ctx context.Context, sourceLang, targetLang string, body func(write tmstore.BlockWriter) error) error {
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.pairURL(sourceLang, targetLang, "blocks"), pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	done := make(chan error, 1)
	go func() {
		resp, err := c.upload.Do(req)
		if err != nil {
			_ = pr.CloseWithError(err)
			done <- err
			return
		}
		// Unblock the writer if the server answered before reading everything.
		_ = pr.CloseWithError(errors.New("server closed the upload"))
		defer func() {
			_ = resp.Body.Close()
		}()
		done <- checkResponse(resp, nil)
	}()

	enc := json.NewEncoder(pw)
	write := func(_ context.Context, blockID string, jobs iter.Seq2[*model.Job, error]) error {
		b := wireBlock{BlockID: blockID, Jobs: []*model.BlockJob{}}
		for job, err := range jobs {
			if err != nil {
				return fmt.Errorf("failed to read job for block %s: %w", blockID, err)
			}
			b.Jobs = append(b.Jobs, model.NewBlockJob(job))
		}
		if err := enc.Encode(b); err != nil {
			return fmt.Errorf("failed to upload block %s: %w", blockID, err)
		}
		return nil
	}

	bodyErr := body(write)
	if bodyErr != nil {
		_ = pw.CloseWithError(bodyErr)
	} else {
		_ = pw.Close()
	}
	if uploadErr := <-done; uploadErr != nil {
		return errors.Join(bodyErr, fmt.Errorf("block upload failed: %w", uploadErr))
	}
	return bodyErr
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return checkResponse(resp, out)
}

// checkResponse maps error statuses to errors and decodes successful bodies
// into out when it is non-nil.
func checkResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		var e ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", msg, tmstore.ErrBlockNotFound)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
