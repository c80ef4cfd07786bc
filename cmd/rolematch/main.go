package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rmax-ai/rolematch/pkg/client"
	"github.com/rmax-ai/rolematch/pkg/mcp"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage: rolematch [-addr URL] <command> [args]

Commands:
  requirements <facility>             list unfilled roles
  candidates <facility> [limit]       list ranked candidates
  assign <facility> <person> <role>   assign a person to a role
  cleanup <person> <role>             remove a person's assignment to a role
  report <facility> [csv|json]        print a staffing report
  history [role]                      list journaled assignments
  mcp                                 serve MCP tools on stdio
  version                             print the version
`

var errUsage = errors.New("usage")

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, client.ErrConflict) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rolematch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", envOrDefault("ROLEMATCH_URL", client.DefaultEndpoint), "daemon URL")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	args = fs.Args()
	if len(args) == 0 {
		return errUsage
	}

	c := client.NewClient(*addr)
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "requirements":
		if len(rest) != 1 {
			return errUsage
		}
		reqs, err := c.Requirements(ctx, rest[0])
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			fmt.Fprintf(out, "No unfilled roles at %s.\n", rest[0])
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE TYPE\tROLE ID\tREQUIRED SKILLS")
		for _, r := range reqs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.RoleType, r.RoleID, strings.Join(r.RequiredSkills, ", "))
		}
		return tw.Flush()

	case "candidates":
		if len(rest) < 1 || len(rest) > 2 {
			return errUsage
		}
		limit := 0
		if len(rest) == 2 {
			n, err := strconv.Atoi(rest[1])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid limit %q", rest[1])
			}
			limit = n
		}
		cands, err := c.Candidates(ctx, rest[0], limit)
		if err != nil {
			return err
		}
		if len(cands) == 0 {
			fmt.Fprintf(out, "No candidates for %s.\n", rest[0])
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tPERSON\tPERSON ID\tROLE\tROLE ID\tSKILLS\tMILES")
		for i, cand := range cands {
			miles := "-"
			if cand.DistanceMiles != nil {
				miles = strconv.FormatFloat(*cand.DistanceMiles, 'f', 1, 64)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", i+1, cand.PersonName, cand.PersonID, cand.RoleType, cand.RoleID, strings.Join(cand.MatchedSkills, ", "), miles)
		}
		return tw.Flush()

	case "assign":
		if len(rest) != 3 {
			return errUsage
		}
		a, err := c.Assign(ctx, rest[0], rest[1], rest[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Assigned %s to %s at %s\nRelationship: %s\n", a.PersonID, a.RoleID, a.FacilityID, a.RelationshipID)
		return nil

	case "cleanup":
		if len(rest) != 2 {
			return errUsage
		}
		deleted, err := c.Cleanup(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d assignment(s)\n", len(deleted))
		for _, id := range deleted {
			fmt.Fprintf(out, "  %s\n", id)
		}
		return nil

	case "report":
		if len(rest) < 1 || len(rest) > 2 {
			return errUsage
		}
		format := "csv"
		if len(rest) == 2 {
			format = rest[1]
		}
		data, err := c.Report(ctx, rest[0], format)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err

	case "history":
		opts := client.HistoryOptions{Limit: 100}
		if len(rest) == 1 {
			opts.RoleID = rest[0]
		} else if len(rest) > 1 {
			return errUsage
		}
		recs, err := c.History(ctx, opts)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTION\tFACILITY\tROLE ID\tPERSON ID\tRELATIONSHIP")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.At.Format(time.RFC3339), r.Action, r.FacilityID, r.RoleID, r.PersonID, r.RelationshipID)
		}
		return tw.Flush()

	case "mcp":
		return mcp.NewServer(*addr).Serve()

	case "version":
		fmt.Fprintf(out, "rolematch %s (%s, built %s)\n", Version, Commit, BuildTime)
		return nil
	}
	return errUsage
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
