package graph

// NodeType represents the semantic type of a node in the staffing graph.
type NodeType string

const (
	NodePerson    NodeType = "Person"
	NodeRole      NodeType = "Role"
	NodeSkill     NodeType = "Skill"
	NodeFacility  NodeType = "Facility"
	NodeCondition NodeType = "Condition"
)

// EdgeType represents the semantic relationship between two nodes.
type EdgeType string

const (
	EdgeRequiresRole      EdgeType = "RequiresRole"      // Facility -> Role
	EdgeRequiresSkill     EdgeType = "RequiresSkill"     // Role -> Skill
	EdgeHasSkill          EdgeType = "HasSkill"          // Person -> Skill
	EdgeHasCondition      EdgeType = "HasCondition"      // Person -> Condition
	EdgeRequiresCondition EdgeType = "RequiresCondition" // Facility -> Condition
	EdgeNearby            EdgeType = "Nearby"            // Facility <-> Facility
	EdgeAssignedTo        EdgeType = "AssignedTo"        // Person -> Role, the only edge the engine creates
)

// Well-known node property keys.
const (
	PropGlobalID   = "globalid"
	PropName       = "name"
	PropRoleType   = "role_type"
	PropFacilityID = "facility_id"
	PropStatus     = "status"
	PropLat        = "lat"
	PropLon        = "lon"
)

// Location is a WGS84 point in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Node represents a vertex in the staffing graph.
type Node struct {
	ID         string            `json:"id"`
	Type       NodeType          `json:"type"`
	Label      string            `json:"label"`
	Location   *Location         `json:"location,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Prop returns a property value or "".
func (n *Node) Prop(key string) string {
	if n.Properties == nil {
		return ""
	}
	return n.Properties[key]
}

// Edge represents a directed connection between two nodes.
type Edge struct {
	ID         string            `json:"id"`
	FromID     string            `json:"from_id"`
	ToID       string            `json:"to_id"`
	Type       EdgeType          `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Graph is a point-in-time snapshot of nodes and edges.
type Graph struct {
	Nodes map[string]*Node `json:"nodes"`
	Edges []*Edge          `json:"edges"`
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Edges: make([]*Edge, 0),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(n *Node) {
	g.Nodes[n.ID] = n
}

// AddEdge adds an edge to the graph.
func (g *Graph) AddEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
}
