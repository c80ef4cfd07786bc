// Package kgrest talks to a knowledge-graph REST service exposing
// openCypher /query and /applyEdits endpoints.
package kgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/cypher"
	"github.com/rmax-ai/rolematch/pkg/graph"
)

// Client implements graph.Client over HTTP.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

type queryRequest struct {
	OpenCypherQuery string         `json:"openCypherQuery"`
	BindParameters  map[string]any `json:"bindParameters,omitempty"`
}

type queryResponse struct {
	ResultRows [][]any       `json:"resultRows"`
	Error      *serviceError `json:"error,omitempty"`
}

type serviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type relationshipAdd struct {
	OriginID      string            `json:"originId"`
	TypeName      string            `json:"typeName"`
	DestinationID string            `json:"destinationId"`
	Properties    map[string]string `json:"properties"`
}

type relationshipDelete struct {
	TypeName string   `json:"typeName"`
	IDs      []string `json:"ids"`
}

type applyEditsRequest struct {
	RelationshipAdds    []relationshipAdd    `json:"relationshipAdds,omitempty"`
	RelationshipDeletes []relationshipDelete `json:"relationshipDeletes,omitempty"`
}

type editItem struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type editGroup struct {
	TypeName string     `json:"typeName"`
	Adds     []editItem `json:"adds"`
	Deletes  []editItem `json:"deletes"`
}

type applyEditsResponse struct {
	EditResults []editGroup   `json:"editResults"`
	Error       *serviceError `json:"error,omitempty"`
}

// NewClient creates a client for the service at baseURL. Requests are not
// retried here; retry policy belongs to the caller.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		h.SetAuthToken(token)
	}
	return &Client{http: h, logger: logger}
}

// Query posts the statement text and its bind parameters.
func (c *Client) Query(ctx context.Context, q cypher.Query) ([]graph.Row, error) {
	var out queryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(queryRequest{OpenCypherQuery: q.Text, BindParameters: q.Params}).
		Post("/query")
	if err != nil {
		return nil, graph.NewQueryError(q.Name, err)
	}
	if resp.IsError() {
		return nil, graph.NewQueryError(q.Name, fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String()))
	}
	if err := decode(resp, &out); err != nil {
		return nil, graph.NewQueryError(q.Name, err)
	}
	if out.Error != nil {
		return nil, graph.NewQueryError(q.Name, fmt.Errorf("service error %d: %s", out.Error.Code, out.Error.Message))
	}

	rows := make([]graph.Row, 0, len(out.ResultRows))
	for _, r := range out.ResultRows {
		rows = append(rows, graph.Row(r))
	}
	c.logger.Debug("kg query", zap.String("statement", q.Name), zap.Int("rows", len(rows)))
	return rows, nil
}

// ApplyEdits posts adds and deletes in one request and maps the service's
// per-type result groups back to one EditResult per requested item.
func (c *Client) ApplyEdits(ctx context.Context, edits graph.Edits) ([]graph.EditResult, error) {
	req := applyEditsRequest{}
	for _, a := range edits.Adds {
		props := a.Properties
		if props == nil {
			props = map[string]string{}
		}
		req.RelationshipAdds = append(req.RelationshipAdds, relationshipAdd{
			OriginID: a.OriginID, TypeName: string(a.Type), DestinationID: a.DestinationID, Properties: props,
		})
	}
	for _, d := range edits.Deletes {
		req.RelationshipDeletes = append(req.RelationshipDeletes, relationshipDelete{TypeName: string(d.Type), IDs: d.IDs})
	}

	var out applyEditsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/applyEdits")
	if err != nil {
		return nil, &graph.EditError{Op: editOp(edits), Err: err}
	}
	if resp.IsError() {
		return nil, &graph.EditError{Op: editOp(edits), Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String())}
	}
	if err := decode(resp, &out); err != nil {
		return nil, &graph.EditError{Op: editOp(edits), Err: err}
	}
	if out.Error != nil {
		return nil, &graph.EditError{Op: editOp(edits), Err: fmt.Errorf("service error %d: %s", out.Error.Code, out.Error.Message)}
	}

	addsByType := make(map[string][]editItem)
	delsByType := make(map[string][]editItem)
	for _, g := range out.EditResults {
		addsByType[g.TypeName] = append(addsByType[g.TypeName], g.Adds...)
		delsByType[g.TypeName] = append(delsByType[g.TypeName], g.Deletes...)
	}

	results := make([]graph.EditResult, 0, len(edits.Adds)+len(edits.Deletes))
	for _, a := range edits.Adds {
		res := graph.EditResult{Op: graph.OpAdd, Type: a.Type, OriginID: a.OriginID, DestinationID: a.DestinationID}
		items := addsByType[string(a.Type)]
		if len(items) == 0 {
			res.Err = "no result reported for add"
		} else {
			res.ID, res.Err = items[0].ID, items[0].Error
			addsByType[string(a.Type)] = items[1:]
		}
		results = append(results, res)
	}
	for _, d := range edits.Deletes {
		for _, id := range d.IDs {
			res := graph.EditResult{Op: graph.OpDelete, Type: d.Type}
			items := delsByType[string(d.Type)]
			if len(items) == 0 {
				res.Err = fmt.Sprintf("no result reported for delete %s", id)
			} else {
				res.ID, res.Err = items[0].ID, items[0].Error
				delsByType[string(d.Type)] = items[1:]
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// decode parses the body as JSON whatever Content-Type the service sent.
// An empty or malformed body is an error, never an empty result.
func decode(resp *resty.Response, out any) error {
	body := resp.Body()
	if len(body) == 0 {
		return fmt.Errorf("empty response body (status %d)", resp.StatusCode())
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response (content-type %q): %w", resp.Header().Get("Content-Type"), err)
	}
	return nil
}

func editOp(edits graph.Edits) graph.EditOp {
	if len(edits.Adds) == 0 && len(edits.Deletes) > 0 {
		return graph.OpDelete
	}
	return graph.OpAdd
}
