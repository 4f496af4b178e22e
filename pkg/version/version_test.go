package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stamp(t *testing.T, v, built, commit string) {
	t.Helper()
	origVersion, origBuild, origCommit := Version, BuildTime, Commit
	t.Cleanup(func() { Version, BuildTime, Commit = origVersion, origBuild, origCommit })
	Version, BuildTime, Commit = v, built, commit
}

func TestInfo(t *testing.T) {
	stamp(t, "1.4.0", "2026-01-01", "abcdef0123456789")

	info := Info()
	assert.Contains(t, info, "lambdeploy 1.4.0")
	assert.Contains(t, info, "(abcdef01)")
	assert.NotContains(t, info, "abcdef0123")
	assert.Contains(t, info, "2026-01-01")
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)

	Commit = "abc123"
	assert.Contains(t, Info(), "(abc123)")
}

func TestAppIDAndMap(t *testing.T) {
	stamp(t, "1.4.0", "2026-01-01", "abc")

	assert.Equal(t, "lambdeploy-1.4.0", AppID())
	m := Map()
	assert.Equal(t, "1.4.0", m["version"])
	assert.Equal(t, "abc", m["commit"])
	assert.Equal(t, runtime.Version(), m["goVersion"])
}
