package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dreamware/herd/internal/jobs"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL     string
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("http %s: %d", e.URL, e.Code)
}

// PostJSON posts body as JSON and decodes the response into out, unless
// out is nil.
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
	return do(req, out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		serr := &StatusError{URL: req.URL.String(), Code: resp.StatusCode}
		var body ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &body) == nil {
			serr.Message = body.Error
		}
		return serr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Client queries a coordinator's status view.
type Client struct {
	base string
}

// NewClient returns a client for the status view at base, for example
// "http://localhost:8080". A bare host:port gets an http scheme.
func NewClient(base string) *Client {
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{base: strings.TrimRight(base, "/")}
}

// Resources lists registered resources.
func (c *Client) Resources(ctx context.Context) (ResourcesResponse, error) {
	var out ResourcesResponse
	err := GetJSON(ctx, c.base+"/resources", &out)
	return out, err
}

// Resource returns one resource by identity.
func (c *Client) Resource(ctx context.Context, id string) (ResourceInfo, error) {
	var out ResourceInfo
	err := GetJSON(ctx, c.base+"/resources/"+url.PathEscape(id), &out)
	return out, err
}

// Stats returns the coordinator counters.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	err := GetJSON(ctx, c.base+"/stats", &out)
	return out, err
}

// SubmitJob submits a job and returns its handle.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (string, error) {
	var out SubmitJobResponse
	if err := PostJSON(ctx, c.base+"/jobs", req, &out); err != nil {
		return "", err
	}
	return out.Handle, nil
}

// Jobs lists recorded jobs.
func (c *Client) Jobs(ctx context.Context) (JobsResponse, error) {
	var out JobsResponse
	err := GetJSON(ctx, c.base+"/jobs", &out)
	return out, err
}

// Job returns one recorded job by handle.
func (c *Client) Job(ctx context.Context, handle string) (jobs.Job, error) {
	var out jobs.Job
	err := GetJSON(ctx, c.base+"/jobs/"+url.PathEscape(handle), &out)
	return out, err
}
