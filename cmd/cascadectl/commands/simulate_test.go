package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoLevelFixture = `
asset: USDC
identifiers: [alice, bob, carol, dave]
rules:
  - owner: alice
    recipients:
      - identifier: bob
        share_bps: 1000
      - identifier: carol
        share_bps: 500
  - owner: bob
    recipients:
      - identifier: dave
        share_bps: 5000
payments:
  - source_ref: pay-1
    payer: store
    identifier: alice
    amount: "100"
`

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(context.Background(), append([]string{"cascadectl", "--env", filepath.Join(t.TempDir(), "none.env")}, args...))
	return out.String(), err
}

func TestSimulateRunsCascadeToCompletion(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(twoLevelFixture), 0o600))

	out, err := runApp(t, "simulate", "--fixture", fixture)
	require.NoError(t, err)

	assert.Contains(t, out, "Cascade pay-1")
	assert.Contains(t, out, "dave")
	assert.Contains(t, out, "Total distributed: 20.0000000")
}

func TestSimulateRejectsMissingFixture(t *testing.T) {
	_, err := runApp(t, "simulate", "--fixture", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestJobShowRequiresArgument(t *testing.T) {
	_, err := runApp(t, "jobs", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job id is required")
}
