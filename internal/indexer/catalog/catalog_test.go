package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

func buildProject(t *testing.T, dataDir, project string, sigs ...string) {
	t.Helper()
	mi := index.NewMemoryIndex()
	for _, sig := range sigs {
		mi.AddDocument(index.Document{ClassFQN: "com.acme." + project, Signature: sig})
	}
	_, err := segment.NewWriter(filepath.Join(dataDir, project)).Write(mi.Snapshot())
	require.NoError(t, err)
}

func TestAcquireAndProjects(t *testing.T) {
	dataDir := t.TempDir()
	buildProject(t, dataDir, "orders", "a()", "b()")
	buildProject(t, dataDir, "audit", "c()")

	c := New(dataDir, nil)
	defer c.Close()

	projects, err := c.Projects()
	require.NoError(t, err)
	assert.Equal(t, []string{"audit", "orders"}, projects)

	r, release, err := c.Acquire("orders")
	require.NoError(t, err)
	assert.Equal(t, 2, r.MaxDoc())

	again, release2, err := c.Acquire("orders")
	require.NoError(t, err)
	assert.Same(t, r, again)
	release()
	release2()
	// release is idempotent
	release()
}

func TestAcquireErrors(t *testing.T) {
	c := New(t.TempDir(), nil)
	defer c.Close()

	_, _, err := c.Acquire("missing")
	assert.ErrorIs(t, err, apperrors.ErrProjectNotFound)

	_, _, err = c.Acquire("../etc")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReloadSwapsReader(t *testing.T) {
	dataDir := t.TempDir()
	buildProject(t, dataDir, "orders", "a()")

	c := New(dataDir, nil)
	defer c.Close()

	old, release, err := c.Acquire("orders")
	require.NoError(t, err)

	buildProject(t, dataDir, "orders", "a()", "b()", "c()")
	c.Reload("orders")

	// the retired reader stays usable until released
	doc, err := old.Document(0)
	require.NoError(t, err)
	assert.Equal(t, "a()", doc.Signature)
	release()

	fresh, release2, err := c.Acquire("orders")
	require.NoError(t, err)
	defer release2()
	assert.Equal(t, 3, fresh.MaxDoc())
}

func TestProjectsMissingDataDir(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "none"), nil)
	projects, err := c.Projects()
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestAcquireAfterClose(t *testing.T) {
	dataDir := t.TempDir()
	buildProject(t, dataDir, "orders", "a()")
	c := New(dataDir, nil)
	require.NoError(t, c.Close())
	_, _, err := c.Acquire("orders")
	assert.ErrorIs(t, err, apperrors.ErrInternal)
}

func TestValidProject(t *testing.T) {
	assert.True(t, ValidProject("commons-csv"))
	assert.True(t, ValidProject("lang_3.1"))
	assert.False(t, ValidProject(""))
	assert.False(t, ValidProject(".."))
	assert.False(t, ValidProject("a/b"))
	assert.False(t, ValidProject(".hidden"))
}

func TestRefreshReloadsStaleProjects(t *testing.T) {
	dataDir := t.TempDir()
	buildProject(t, dataDir, "orders", "a()")
	buildProject(t, dataDir, "audit", "c()")

	c := New(dataDir, nil)
	defer c.Close()

	// nothing is open yet
	assert.Empty(t, c.Refresh())

	_, release, err := c.Acquire("orders")
	require.NoError(t, err)
	release()
	_, release, err = c.Acquire("audit")
	require.NoError(t, err)
	release()
	assert.Empty(t, c.Refresh())

	buildProject(t, dataDir, "orders", "a()", "b()")
	assert.Equal(t, []string{"orders"}, c.Refresh())

	fresh, release, err := c.Acquire("orders")
	require.NoError(t, err)
	defer release()
	assert.Equal(t, 2, fresh.MaxDoc())
	assert.Empty(t, c.Refresh())
}
