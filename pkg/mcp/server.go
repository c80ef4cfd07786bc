package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/rolematch/pkg/client"
)

const facilityURIPrefix = "rolematch://facilities/"

// Server adapts rolematch-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"rolematch",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(
		facilityURIPrefix+"{id}",
		"Facility",
		mcp.WithTemplateDescription("Attributes of one facility"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.handleReadFacility)

	s.mcpServer.AddResource(mcp.NewResource(
		"rolematch://assignments",
		"Assignment History",
		mcp.WithResourceDescription("Recently committed and released assignments"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadAssignments)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"unfilled_roles",
		mcp.WithDescription("List the roles at a facility that nobody fills, with the skills each requires."),
		mcp.WithString("facility_id", mcp.Required(), mcp.Description("Facility id (e.g., 'Shelter-12')")),
	), s.handleUnfilledRoles)

	s.mcpServer.AddTool(mcp.NewTool(
		"ranked_candidates",
		mcp.WithDescription("List displaced people whose skills fully cover an unfilled role at a facility, best first."),
		mcp.WithString("facility_id", mcp.Required(), mcp.Description("Facility id (e.g., 'Shelter-12')")),
		mcp.WithNumber("limit", mcp.Description("Maximum candidates (default: daemon setting)")),
	), s.handleRankedCandidates)

	s.mcpServer.AddTool(mcp.NewTool(
		"assign_candidate",
		mcp.WithDescription("Assign a person to a role. Fails if the role is already filled."),
		mcp.WithString("facility_id", mcp.Required(), mcp.Description("Facility the role belongs to")),
		mcp.WithString("person_id", mcp.Required(), mcp.Description("Global id of the person")),
		mcp.WithString("role_id", mcp.Required(), mcp.Description("Global id of the role")),
	), s.handleAssignCandidate)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"rolematch-aware",
		mcp.WithPromptDescription("Provides context about rolematch concepts (Facilities, Roles, Candidates)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadFacility(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(request.Params.URI, facilityURIPrefix)
	if id == "" || id == request.Params.URI {
		return nil, fmt.Errorf("invalid facility uri: %s", request.Params.URI)
	}
	info, err := s.apiClient.Facility(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch facility: %w", err)
	}
	return jsonContents(request.Params.URI, info)
}

func (s *Server) handleReadAssignments(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	recs, err := s.apiClient.History(ctx, client.HistoryOptions{Limit: 50})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assignments: %w", err)
	}
	return jsonContents(request.Params.URI, recs)
}

func (s *Server) handleUnfilledRoles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	facilityID := mcp.ParseString(request, "facility_id", "")
	if facilityID == "" {
		return mcp.NewToolResultError("facility_id is required"), nil
	}

	reqs, err := s.apiClient.Requirements(ctx, facilityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if len(reqs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No unfilled roles at %s.", facilityID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Unfilled roles at %s:\n", facilityID)
	for _, r := range reqs {
		fmt.Fprintf(&b, "- %s (%s) requires %s\n", r.RoleType, r.RoleID, strings.Join(r.RequiredSkills, ", "))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleRankedCandidates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	facilityID := mcp.ParseString(request, "facility_id", "")
	if facilityID == "" {
		return mcp.NewToolResultError("facility_id is required"), nil
	}
	limit := mcp.ParseInt(request, "limit", 0)

	cands, err := s.apiClient.Candidates(ctx, facilityID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if len(cands) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No candidates cover the unfilled roles at %s.", facilityID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Candidates for %s:\n", facilityID)
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. %s (%s) for %s %s, skills: %s", i+1, c.PersonName, c.PersonID, c.RoleType, c.RoleID, strings.Join(c.MatchedSkills, ", "))
		if c.DistanceMiles != nil {
			fmt.Fprintf(&b, ", %.1f mi", *c.DistanceMiles)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleAssignCandidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	facilityID := mcp.ParseString(request, "facility_id", "")
	personID := mcp.ParseString(request, "person_id", "")
	roleID := mcp.ParseString(request, "role_id", "")

	a, err := s.apiClient.Assign(ctx, facilityID, personID, roleID)
	switch {
	case errors.Is(err, client.ErrConflict):
		return mcp.NewToolResultError(fmt.Sprintf("Role %s is already filled; choose another role or candidate.", roleID)), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Assigned %s to %s at %s (relationship %s).", personID, roleID, facilityID, a.RelationshipID)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "rolematch-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are helping staff emergency shelters with rolematch.

Concepts:
- Facility: a shelter or site (e.g., 'Shelter-12') with roles to fill.
- Role: a position at a facility (e.g., Nurse) that requires a set of skills.
- Candidate: a person displaced from a closed facility nearby whose skills cover every skill a role requires.

Use 'unfilled_roles' to see what a facility needs and 'ranked_candidates' to see who can cover it.
Only call 'assign_candidate' after the user confirms the choice. If it reports the role is already filled, refresh the candidates instead of retrying.
`

	return mcp.NewGetPromptResult(
		"rolematch-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
