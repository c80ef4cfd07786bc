// Package bolt runs the staffing statements against a Bolt-speaking graph store.
package bolt

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/cypher"
	"github.com/rmax-ai/rolematch/pkg/graph"
)

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Client implements graph.Client over the neo4j driver.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewClient connects and verifies connectivity.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j at %s: %w", cfg.URI, err)
	}
	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Query runs q in a read session and returns the raw record values.
func (c *Client) Query(ctx context.Context, q cypher.Query) ([]graph.Row, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: c.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, q.Text, q.Params)
	if err != nil {
		return nil, graph.NewQueryError(q.Name, err)
	}

	rows := []graph.Row{}
	for result.Next(ctx) {
		rows = append(rows, graph.Row(result.Record().Values))
	}
	if err := result.Err(); err != nil {
		return nil, graph.NewQueryError(q.Name, err)
	}
	c.logger.Debug("neo4j query", zap.String("statement", q.Name), zap.Int("rows", len(rows)))
	return rows, nil
}

// ApplyEdits runs every add and delete in its own write transaction, so one
// failed item never rolls back another.
func (c *Client) ApplyEdits(ctx context.Context, edits graph.Edits) ([]graph.EditResult, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: c.database})
	defer session.Close(ctx)

	results := make([]graph.EditResult, 0, len(edits.Adds)+len(edits.Deletes))
	for _, add := range edits.Adds {
		res := graph.EditResult{Op: graph.OpAdd, Type: add.Type, OriginID: add.OriginID, DestinationID: add.DestinationID}
		q, err := AddEdgeQuery(add, "{"+uuid.NewString()+"}")
		if err != nil {
			res.Err = err.Error()
			results = append(results, res)
			continue
		}
		id, err := c.writeSingle(ctx, session, q)
		if err != nil {
			res.Err = err.Error()
		} else {
			res.ID = id
		}
		results = append(results, res)
	}
	for _, del := range edits.Deletes {
		for _, relID := range del.IDs {
			res := graph.EditResult{Op: graph.OpDelete, Type: del.Type}
			q, err := DeleteEdgeQuery(del.Type, relID)
			if err != nil {
				res.Err = err.Error()
				results = append(results, res)
				continue
			}
			id, err := c.writeSingle(ctx, session, q)
			if err != nil {
				res.Err = err.Error()
			} else {
				res.ID = id
			}
			results = append(results, res)
		}
	}
	return results, nil
}

func (c *Client) writeSingle(ctx context.Context, session neo4j.SessionWithContext, q cypher.Query) (string, error) {
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, q.Text, q.Params)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		id, _ := record.Values[0].(string)
		return id, nil
	})
	if err != nil {
		c.logger.Warn("neo4j edit failed", zap.String("statement", q.Name), zap.Error(err))
		return "", err
	}
	return out.(string), nil
}

// AddEdgeQuery builds the CREATE statement for one relationship add.
func AddEdgeQuery(add graph.EdgeAdd, relID string) (cypher.Query, error) {
	props := make(map[string]any, len(add.Properties))
	for k, v := range add.Properties {
		props[k] = v
	}
	b := cypher.New()
	b.Match(fmt.Sprintf("(a {%s: %s}), (b {%s: %s})",
		b.Prop(graph.PropGlobalID), b.Param("originID", add.OriginID),
		b.Prop(graph.PropGlobalID), b.Param("destinationID", add.DestinationID))).
		Create("(a)-[r:" + b.Rel(string(add.Type)) + "]->(b)").
		Set("r = "+b.Param("props", props), "r."+graph.PropGlobalID+" = "+b.Param("relID", relID)).
		Return("r." + graph.PropGlobalID)
	return b.Build("add_edge")
}

// DeleteEdgeQuery builds the DELETE statement for one relationship id.
func DeleteEdgeQuery(t graph.EdgeType, relID string) (cypher.Query, error) {
	b := cypher.New()
	b.Match("()-[r:" + b.Rel(string(t)) + " {" + graph.PropGlobalID + ": " + b.Param("relID", relID) + "}]->()").
		With("r", "r."+graph.PropGlobalID+" AS id").
		Delete("r").
		Return("id")
	return b.Build("delete_edge")
}
