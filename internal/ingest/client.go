package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/backroomhq/backroom/internal/storage"
)

// Client is the HTTP Collaborator used by the CLI against a running server.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a client for the given base URL, e.g. "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload posts the file as multipart form data.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader, supplierID *int64) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read upload source: %w", err)
	}
	if supplierID != nil {
		if err := mw.WriteField("supplier_id", strconv.FormatInt(*supplierID, 10)); err != nil {
			return fmt.Errorf("build multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ingest/upload", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload rejected: %s", resp.Status)
	}
	return nil
}

// Trigger asks the server to start extraction for an uploaded file.
func (c *Client) Trigger(ctx context.Context, filename string, supplierID *int64) error {
	q := url.Values{"filename": {filename}}
	if supplierID != nil {
		q.Set("supplier_id", strconv.FormatInt(*supplierID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ingest/trigger?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trigger rejected: %s", resp.Status)
	}
	return nil
}

// Poll fetches job status. A 404 is not an error: the job has no status
// yet and the caller should poll again.
func (c *Client) Poll(ctx context.Context, filename string) (*PollResult, error) {
	q := url.Values{"filename": {filename}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ingest/process?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &PollResult{NotRegistered: true}, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("poll rejected: %s", resp.Status)
	}

	var body struct {
		Status      string            `json:"status"`
		CurrentPage int               `json:"current_page"`
		TotalPages  int               `json:"total_pages"`
		Message     string            `json:"message"`
		Products    []storage.Product `json:"products"`
		MissingSKUs []string          `json:"missing_skus"`
		Mode        string            `json:"mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}

	res := &PollResult{
		Status:      body.Status,
		CurrentPage: body.CurrentPage,
		TotalPages:  body.TotalPages,
		Message:     body.Message,
	}
	if body.Status == "preview" {
		res.Preview = &Preview{
			Products:    body.Products,
			MissingSKUs: body.MissingSKUs,
			Mode:        body.Mode,
		}
	}
	return res, nil
}
