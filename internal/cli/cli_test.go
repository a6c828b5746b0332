package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawgdevv/bitespeed/internal/models"
	"github.com/dawgdevv/bitespeed/internal/service"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommands_IdentifyAndList(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	out, err := run(t, "migrate", "--database-url", dbPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "schema applied (sqlite3)")

	out, err = run(t, "identify", "--database-url", dbPath, "--log-level", "error", "--email", "Doc@HillValley.edu", "--phone", "88")
	require.NoError(t, err)
	var resp models.IdentifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(1), resp.Contact.PrimaryContactID)
	assert.Equal(t, []string{"doc@hillvalley.edu"}, resp.Contact.Emails)

	out, err = run(t, "contacts", "--database-url", dbPath, "--log-level", "error")
	require.NoError(t, err)
	var contacts []models.Contact
	require.NoError(t, json.Unmarshal([]byte(out), &contacts))
	require.Len(t, contacts, 1)
	assert.Equal(t, models.PrecedencePrimary, contacts[0].LinkPrecedence)
}

func TestCommands_IdentifyValidation(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	_, err := run(t, "identify", "--database-url", dbPath, "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, service.KindValidation, service.KindOf(err))
}

func TestCommands_BadLogLevel(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := run(t, "migrate", "--database-url", filepath.Join(t.TempDir(), "x.db"), "--log-level", "shouty")
	require.Error(t, err)
}
