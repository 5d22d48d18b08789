package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/internal/infrastructure/repositories/memory"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	layout := writeFile(t, "layout.json", `{"type":"pair","slot1":{"connectionId":"c2"}}`)
	viewports := writeFile(t, "viewports.json", `{"viewports":[
		{"connectionId":"c1","streamId":"s1","kind":"camera","joinedAt":1},
		{"connectionId":"c2","streamId":"s2","kind":"camera","joinedAt":2}
	]}`)

	out, err := execute(t, NewRootCommand(&bytes.Buffer{}), "resolve", "--layout", layout, "--viewports", viewports)
	require.NoError(t, err)

	var visual struct {
		Type  string           `json:"type"`
		Left  *domain.Viewport `json:"leftViewport"`
		Right *domain.Viewport `json:"rightViewport"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &visual))
	assert.Equal(t, "pair", visual.Type)
	require.NotNil(t, visual.Left)
	assert.Equal(t, domain.StreamID("s2"), visual.Left.StreamID)
	assert.Nil(t, visual.Right)
}

func TestResolveCommand_BadInput(t *testing.T) {
	layout := writeFile(t, "layout.json", `not json`)
	viewports := writeFile(t, "viewports.json", `[]`)

	_, err := execute(t, NewRootCommand(&bytes.Buffer{}), "resolve", "--layout", layout, "--viewports", viewports)
	assert.Error(t, err)

	_, err = execute(t, NewRootCommand(&bytes.Buffer{}), "resolve", "--viewports", viewports)
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	repo := memory.NewMemoryLayoutRepository()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Append(ctx, &domain.LayoutRecord{ID: "r1", SessionID: "room", LayoutData: domain.SingleLayout{}, CreatedAt: base}))
	require.NoError(t, repo.Append(ctx, &domain.LayoutRecord{ID: "r2", SessionID: "room", LayoutData: domain.PairLayout{}, CreatedAt: base.Add(time.Minute)}))

	closed := false
	open := func(context.Context, string) (ports.LayoutRepository, func() error, error) {
		return repo, func() error { closed = true; return nil }, nil
	}

	out, err := execute(t, newHistoryCmd(open), "--session", "room", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "r2")
	assert.Contains(t, out, "pair")
	assert.NotContains(t, out, "r1")
	assert.True(t, closed)

	out, err = execute(t, newHistoryCmd(open), "--session", "room", "--json")
	require.NoError(t, err)
	var records []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 2)

	out, err = execute(t, newHistoryCmd(open), "--session", "empty")
	require.NoError(t, err)
	assert.Contains(t, out, "no layouts saved")

	_, err = execute(t, newHistoryCmd(open), "--session", "bad id")
	assert.Error(t, err)
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3")
	defer SetVersion("dev")

	out, err := execute(t, NewRootCommand(&bytes.Buffer{}), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3")
}

func TestBackupCommands(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	source := memory.NewMemoryLayoutRepository()
	require.NoError(t, source.Append(ctx, &domain.LayoutRecord{ID: "r1", SessionID: "room", LayoutData: domain.SingleLayout{}, CreatedAt: time.Now().UTC()}))
	target := memory.NewMemoryLayoutRepository()

	openRepo := func(repo ports.LayoutRepository) repoOpener {
		return func(context.Context, string) (ports.LayoutRepository, func() error, error) {
			return repo, func() error { return nil }, nil
		}
	}

	out, err := execute(t, newBackupCmd(openRepo(source)), "export", "--dir", dir, "--session", "room")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 1 records")

	out, err = execute(t, newBackupCmd(nil), "list", "--dir", dir)
	require.NoError(t, err)
	names := strings.Fields(out)
	require.Len(t, names, 1)

	out, err = execute(t, newBackupCmd(openRepo(target)), "import", "--dir", dir, "--name", names[0])
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 records")

	latest, err := target.Latest(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, "r1", latest.ID)
}
