package cache

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMissBeforePopulation(t *testing.T) {
	c := NewMemory(2, time.Hour)

	_, ok := c.Get("npm:lodash:4.17.21")
	assert.False(t, ok)

	require.NoError(t, c.Set("npm:lodash:4.17.21", []byte(`[]`)))
	data, ok := c.Get("npm:lodash:4.17.21")
	assert.True(t, ok)
	assert.Equal(t, []byte(`[]`), data)
}

func TestMemoryEvictsOldest(t *testing.T) {
	c := NewMemory(2, time.Hour)
	require.NoError(t, c.Set("a", []byte("1")))
	require.NoError(t, c.Set("b", []byte("2")))
	require.NoError(t, c.Set("c", []byte("3")))

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestDiskRoundTripAndExpiry(t *testing.T) {
	fs := afero.NewMemMapFs()
	c, err := NewDisk(fs, "/cache", time.Hour)
	require.NoError(t, err)

	_, ok := c.Get("PyPI:requests:2.31.0")
	assert.False(t, ok)

	require.NoError(t, c.Set("PyPI:requests:2.31.0", []byte(`[{"id":"PYSEC-1"}]`)))
	data, ok := c.Get("PyPI:requests:2.31.0")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"PYSEC-1"}]`, string(data))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, fs.Chtimes(c.Path("PyPI:requests:2.31.0"), old, old))
	_, ok = c.Get("PyPI:requests:2.31.0")
	assert.False(t, ok, "expired entries miss")

	removed, err := c.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	exists, err := afero.Exists(fs, c.Path("PyPI:requests:2.31.0"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTieredPromotesHits(t *testing.T) {
	front := NewMemory(10, time.Hour)
	back, err := NewDisk(afero.NewMemMapFs(), "/cache", time.Hour)
	require.NoError(t, err)
	require.NoError(t, back.Set("k", []byte("v")))

	tiered := Tiered{front, back}
	data, ok := tiered.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	data, ok = front.Get("k")
	assert.True(t, ok, "hit copied to the front layer")
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, tiered.Set("k2", []byte("v2")))
	_, ok = back.Get("k2")
	assert.True(t, ok)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set("k", []byte("v")))
	_, ok := c.Get("k")
	assert.False(t, ok)
}
