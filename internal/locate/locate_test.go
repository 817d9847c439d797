package locate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestLocate_GroupsByDateDir(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "20200610", "subset_hrrr.nc"))
	touch(t, filepath.Join(root, "20200609", "subset_hrrr.nc"))
	touch(t, filepath.Join(root, "20200609", "another_hrrr.nc"))
	touch(t, filepath.Join(root, "20200609", "README.txt"))

	groups, err := Locate(root, "*hrrr*", DateDirKey)
	require.NoError(t, err)

	require.Len(t, groups, 2)
	assert.Equal(t, "20200609", groups[0].Key, "groups ordered lexically")
	assert.Equal(t, "20200610", groups[1].Key)
	require.Len(t, groups[0].Paths, 2)
	assert.Equal(t, "another_hrrr.nc", filepath.Base(groups[0].Paths[0]), "paths ordered lexically")
}

func TestLocate_NoMatches(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "20200609", "README.txt"))

	_, err := Locate(root, "*hrrr*", DateDirKey)
	assert.ErrorIs(t, err, ErrNoSourceData)
}

func TestLocate_UnparsableKeyIsNotDropped(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "not-a-date", "subset_hrrr.nc"))

	_, err := Locate(root, "*hrrr*", DateDirKey)
	assert.ErrorIs(t, err, ErrUnparsableKey)
}

func TestYearDirKey(t *testing.T) {
	k, err := YearDirKey("/data/hrrr/20200609/subset_hrrr.nc")
	require.NoError(t, err)
	assert.Equal(t, "2020", k)

	_, err = YearDirKey("/data/hrrr/june/subset_hrrr.nc")
	assert.ErrorIs(t, err, ErrUnparsableKey)
}

func TestYearDOYKey(t *testing.T) {
	k, err := YearDOYKey("/data/modis/MOD13Q1.A2020161.h08v05.061.nc")
	require.NoError(t, err)
	assert.Equal(t, "2020", k)

	_, err = YearDOYKey("/data/modis/MOD13Q1.h08v05.061.nc")
	assert.ErrorIs(t, err, ErrUnparsableKey)
}

func TestTileKey(t *testing.T) {
	k, err := TileKey("/data/srtm/N34W118.hgt.nc")
	require.NoError(t, err)
	assert.Equal(t, "N34W118", k)

	_, err = TileKey("/data/srtm/elevation.nc")
	assert.ErrorIs(t, err, ErrUnparsableKey)
}

func TestSingleKey(t *testing.T) {
	key := SingleKey("static")
	k, err := key("anything/at/all")
	require.NoError(t, err)
	assert.Equal(t, "static", k)
}

func TestStripSubsetPrefix(t *testing.T) {
	assert.Equal(t, "hrrr.t21z.wrfsfcf00.grib2",
		StripSubsetPrefix("subset_5721ea5__hrrr.t21z.wrfsfcf00.grib2"))
	assert.Equal(t, "plain.nc", StripSubsetPrefix("plain.nc"))
}
