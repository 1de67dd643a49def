package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/astromechza/viewsync/pkg/state"
)

// Client talks to the backend over its JSON endpoints. Reads pass their
// parameters as JSON in the q query parameter; writes POST a JSON body.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", req.URL.Path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code from %s: %d: %s", req.URL.Path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params interface{}, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	u := c.baseURL.JoinPath(path)
	u.RawQuery = url.Values{"q": {string(raw)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath(path).String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) LoadProject(ctx context.Context, name string) (Project, error) {
	var p Project
	if err := c.get(ctx, "/ajax/project", map[string]string{"name": name}, &p); err != nil {
		return Project{}, err
	}
	return p, nil
}

func (c *Client) ForkProject(ctx context.Context, from, to string) error {
	return c.post(ctx, "/ajax/forkProject", map[string]string{"from": from, "to": to})
}

func (c *Client) UndoProject(ctx context.Context, project string) error {
	return c.post(ctx, "/ajax/undoProject", map[string]string{"project": project})
}

func (c *Client) RedoProject(ctx context.Context, project string) error {
	return c.post(ctx, "/ajax/redoProject", map[string]string{"project": project})
}

func (c *Client) ApplyOperation(ctx context.Context, project string, op Operation) error {
	return c.post(ctx, "/ajax/projectOp", struct {
		Project string    `json:"project"`
		Op      Operation `json:"op"`
	}{project, op})
}

// centerFilter is a vertex filter resolved to the attribute id.
type centerFilter struct {
	AttributeID string `json:"attributeId"`
	ValueSpec   string `json:"valueSpec"`
}

func (c *Client) Centers(ctx context.Context, project Project, req state.CentersRequest) ([]string, error) {
	ids := make(map[string]string, len(project.VertexAttributes))
	for _, a := range project.VertexAttributes {
		ids[a.Title] = a.ID
	}
	filters := make([]centerFilter, 0, len(req.Filters))
	for _, f := range req.Filters {
		id, ok := ids[f.AttributeName]
		if !ok {
			return nil, fmt.Errorf("unknown vertex attribute %q: %w", f.AttributeName, ErrNotFound)
		}
		filters = append(filters, centerFilter{AttributeID: id, ValueSpec: f.ValueSpec})
	}
	var res struct {
		Centers []string `json:"centers"`
	}
	if err := c.get(ctx, "/ajax/center", struct {
		VertexSetID string         `json:"vertexSetId"`
		Count       int            `json:"count"`
		Filters     []centerFilter `json:"filters"`
	}{project.VertexSet, req.Count, filters}, &res); err != nil {
		return nil, err
	}
	return res.Centers, nil
}

// compile-time interface assertions
var _ Service = (*Client)(nil)
