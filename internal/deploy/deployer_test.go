package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployer_DeployAndCurrent(t *testing.T) {
	d, err := NewDeployer(t.TempDir())
	require.NoError(t, err)

	v1, err := d.Deploy("sma-cross", []byte("body v1"))
	require.NoError(t, err)
	assert.NotEmpty(t, v1.ID)

	cur, body, err := d.Current("sma-cross")
	require.NoError(t, err)
	assert.Equal(t, v1.File, cur.File)
	assert.Equal(t, "body v1", string(body))
}

func TestDeployer_RollbackRestoresPreviousVersion(t *testing.T) {
	d, err := NewDeployer(t.TempDir())
	require.NoError(t, err)

	v1, err := d.Deploy("sma-cross", []byte("body v1"))
	require.NoError(t, err)
	v2, err := d.Deploy("sma-cross", []byte("body v2"))
	require.NoError(t, err)
	require.NotEqual(t, v1.File, v2.File)

	prev, err := d.Rollback("sma-cross")
	require.NoError(t, err)
	assert.Equal(t, v1.File, prev.File)

	_, body, err := d.Current("sma-cross")
	require.NoError(t, err)
	assert.Equal(t, "body v1", string(body))

	// 历史版本文件保留，回滚不删除任何东西
	versions, err := d.Versions("sma-cross")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestDeployer_RollbackWithoutHistoryFails(t *testing.T) {
	d, err := NewDeployer(t.TempDir())
	require.NoError(t, err)

	_, err = d.Deploy("solo", []byte("only"))
	require.NoError(t, err)
	_, err = d.Rollback("solo")
	require.Error(t, err)
}

func TestDeployer_RejectsUnsafeNames(t *testing.T) {
	d, err := NewDeployer(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := d.Deploy(name, []byte("x"))
		assert.Error(t, err, "name %q", name)
	}
}
