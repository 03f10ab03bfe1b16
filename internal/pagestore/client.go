// Package pagestore is the HTTP client for the remote document store. The
// store owns versioning: a stale version at write time comes back as
// ErrConflict and is never silently overwritten.
package pagestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgallion1/pageedit/internal/doctree"
)

// ErrConflict is returned when the store rejects a write because the page
// version changed since fetch.
var ErrConflict = errors.New("version conflict")

// ErrNotFound is returned when the requested page does not exist.
var ErrNotFound = errors.New("page not found")

// Page is one fetched document: the tree plus the version the write-back
// must be based on.
type Page struct {
	ID      string
	Title   string
	SpaceID string
	Version int
	Tree    *doctree.Node
}

// Client communicates with the page store HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type pageResponse struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	SpaceID string `json:"space_id"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Body struct {
		Doc     *doctree.Node `json:"doc,omitempty"`
		Storage string        `json:"storage,omitempty"`
	} `json:"body"`
}

// Fetch retrieves a page's document tree and current version.
func (c *Client) Fetch(ctx context.Context, id string) (*Page, error) {
	res, err := c.getPage(ctx, id, "doc")
	if err != nil {
		return nil, err
	}
	if res.Body.Doc == nil {
		return nil, fmt.Errorf("fetch page %s: response has no doc body", id)
	}
	return &Page{
		ID:      res.ID,
		Title:   res.Title,
		SpaceID: res.SpaceID,
		Version: res.Version.Number,
		Tree:    res.Body.Doc,
	}, nil
}

// FetchStorage retrieves a page's body in storage (XHTML) representation,
// used by the markdown export path.
func (c *Client) FetchStorage(ctx context.Context, id string) (string, string, error) {
	res, err := c.getPage(ctx, id, "storage")
	if err != nil {
		return "", "", err
	}
	return res.Body.Storage, res.Title, nil
}

func (c *Client) getPage(ctx context.Context, id, format string) (*pageResponse, error) {
	u := fmt.Sprintf("%s/api/v2/pages/%s?body-format=%s", c.baseURL, url.PathEscape(id), format)

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err = c.httpClient.Do(httpReq)
		if retryable(resp, err) && attempt < maxRetries {
			if resp != nil {
				resp.Body.Close()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch page %s: %w", id, err)
		}
		break
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("fetch page %s: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch page %s: status %d: %s", id, resp.StatusCode, string(respBody))
	}

	var res pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode page %s: %w", id, err)
	}
	return &res, nil
}

type writeRequest struct {
	Version struct {
		Number  int    `json:"number"`
		Message string `json:"message,omitempty"`
	} `json:"version"`
	Body struct {
		Doc *doctree.Node `json:"doc"`
	} `json:"body"`
}

// Write replaces a page's tree. baseVersion must be the version the tree was
// fetched at; the new version is baseVersion+1. A 409 from the store means
// another session wrote first and maps to ErrConflict.
func (c *Client) Write(ctx context.Context, id string, tree *doctree.Node, baseVersion int, message string) (int, error) {
	var req writeRequest
	req.Version.Number = baseVersion + 1
	req.Version.Message = message
	req.Body.Doc = tree

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal page: %w", err)
	}
	u := fmt.Sprintf("%s/api/v2/pages/%s", c.baseURL, url.PathEscape(id))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("write page %s: %w", id, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusConflict:
		return 0, fmt.Errorf("write page %s: %w", id, ErrConflict)
	case http.StatusNotFound:
		return 0, fmt.Errorf("write page %s: %w", id, ErrNotFound)
	case http.StatusOK:
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("write page %s: status %d: %s", id, resp.StatusCode, string(respBody))
	}

	var res struct {
		Version struct {
			Number int `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, fmt.Errorf("decode write response: %w", err)
	}
	return res.Version.Number, nil
}

// Close releases any resources (currently idle connections).
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
