package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/rolematch/pkg/api"
	"github.com/rmax-ai/rolematch/pkg/client"
	"github.com/rmax-ai/rolematch/pkg/engine"
	"github.com/rmax-ai/rolematch/pkg/graph/graphtest"
	"github.com/rmax-ai/rolematch/pkg/store"
)

func daemonURL(t *testing.T) string {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := engine.NewService(graphtest.NewMemory(), engine.WithJournal(st))
	srv := httptest.NewServer(api.NewServer(svc, "", nil).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"-addr", url}, args...), &out)
	return out.String(), err
}

func TestCLI_Workflow(t *testing.T) {
	url := daemonURL(t)

	out, err := runCLI(t, url, "requirements", graphtest.Shelter12)
	require.NoError(t, err)
	assert.Contains(t, out, graphtest.RoleNurse12)
	assert.Contains(t, out, "CPR")

	out, err = runCLI(t, url, "candidates", graphtest.Shelter12, "2")
	require.NoError(t, err)
	assert.Contains(t, out, "1  "+graphtest.NameAlvarez)
	assert.Contains(t, out, graphtest.NameChen)

	out, err = runCLI(t, url, "assign", graphtest.Shelter12, graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Contains(t, out, "Assigned "+graphtest.PersonAlvarez)

	_, err = runCLI(t, url, "assign", graphtest.Shelter12, graphtest.PersonChen, graphtest.RoleNurse12)
	assert.ErrorIs(t, err, client.ErrConflict)

	out, err = runCLI(t, url, "requirements", graphtest.Shelter12)
	require.NoError(t, err)
	assert.Contains(t, out, "No unfilled roles")

	out, err = runCLI(t, url, "cleanup", graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 assignment(s)")

	out, err = runCLI(t, url, "history", graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Contains(t, out, "assigned")
	assert.Contains(t, out, "released")
}

func TestCLI_Report(t *testing.T) {
	url := daemonURL(t)

	out, err := runCLI(t, url, "report", graphtest.Shelter12)
	require.NoError(t, err)
	assert.Contains(t, out, "facility_id,facility_name")

	out, err = runCLI(t, url, "report", graphtest.Shelter12, "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"generated_at"`)
}

func TestCLI_Usage(t *testing.T) {
	url := daemonURL(t)

	for _, args := range [][]string{
		{},
		{"unknown"},
		{"requirements"},
		{"assign", "a", "b"},
		{"cleanup", "a"},
	} {
		_, err := runCLI(t, url, args...)
		assert.ErrorIs(t, err, errUsage, "args %v", args)
	}

	_, err := runCLI(t, url, "candidates", graphtest.Shelter12, "many")
	assert.ErrorContains(t, err, "invalid limit")
}
