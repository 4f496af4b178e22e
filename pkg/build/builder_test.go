package build

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rzbill/lambdeploy/pkg/docker"
	"github.com/rzbill/lambdeploy/pkg/lazy"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/runner"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func nestProject(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeFile(t, src, "package.json", `{"name":"your-app"}`)
	writeFile(t, src, "dist/main.js", "module.exports = {}")
	writeFile(t, src, "dist/lambda.js", "exports.handler = async () => ({statusCode: 200})")
	writeFile(t, src, "node_modules/@nestjs/core/index.js", "// core")
	writeFile(t, src, "src/main.ts", "bootstrap()")
	return src
}

func okRunner() *runner.MockRunner {
	r := &runner.MockRunner{}
	r.On("Run", mock.Anything, mock.Anything).Return(runner.Result{}, nil)
	return r
}

func bundleRequest(src string) Request {
	return Request{
		Target:    "dev",
		Source:    src,
		Transport: types.TransportBundle,
		Bundle: BundleOptions{
			BuildCommand: []string{"npm", "run", "build"},
			OutputDir:    "dist",
			Entry:        "dist/main.js",
			Include:      []string{"node_modules", "package.json"},
		},
	}
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBuildBundle(t *testing.T) {
	src := nestProject(t)
	r := okRunner()
	b := &Builder{Runner: r, Logger: log.NewTestLogger()}

	art, err := b.Build(context.Background(), bundleRequest(src))
	require.NoError(t, err)

	assert.Equal(t, types.TransportBundle, art.Transport)
	assert.Equal(t, filepath.Join(src, ".lambdeploy", "build", "dev.zip"), art.Path)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, art.Digest)
	assert.Equal(t, []string{
		"dist/lambda.js",
		"dist/main.js",
		"node_modules/@nestjs/core/index.js",
		"package.json",
	}, zipNames(t, art.Path))

	r.AssertCalled(t, "Run", mock.Anything, mock.MatchedBy(func(o runner.Options) bool {
		return o.WorkingDir == src && len(o.Command) == 3 && o.Command[0] == "npm"
	}))
}

func TestBuildBundleIsDeterministic(t *testing.T) {
	src := nestProject(t)
	b := &Builder{Runner: okRunner(), Logger: log.NewTestLogger()}

	first, err := b.Build(context.Background(), bundleRequest(src))
	require.NoError(t, err)

	// Touch a file so only the mtime differs.
	require.NoError(t, os.Chtimes(filepath.Join(src, "dist/main.js"), first.BuiltAt, first.BuiltAt))

	second, err := b.Build(context.Background(), bundleRequest(src))
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, first.SizeBytes, second.SizeBytes)
}

func TestBuildBundleMissingEntry(t *testing.T) {
	src := nestProject(t)
	require.NoError(t, os.Remove(filepath.Join(src, "dist/main.js")))
	b := &Builder{Runner: okRunner(), Logger: log.NewTestLogger()}

	_, err := b.Build(context.Background(), bundleRequest(src))
	assert.True(t, types.IsKind(err, types.KindBuildFailed))
	assert.Contains(t, err.Error(), "dist/main.js")

	_, statErr := os.Stat(filepath.Join(src, ".lambdeploy", "build", "dev.zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildBundleCommandFails(t *testing.T) {
	src := nestProject(t)
	r := &runner.MockRunner{}
	r.On("Run", mock.Anything, mock.Anything).
		Return(runner.Result{ExitCode: 2}, &runner.ExitError{Command: "npm", ExitCode: 2, Stderr: "error TS2304: Cannot find name"})
	b := &Builder{Runner: r, Logger: log.NewTestLogger()}

	_, err := b.Build(context.Background(), bundleRequest(src))
	assert.True(t, types.IsKind(err, types.KindBuildFailed))
	assert.Contains(t, err.Error(), "TS2304")
}

func TestBuildBundleKeepsPreviousOnFailure(t *testing.T) {
	src := nestProject(t)
	b := &Builder{Runner: okRunner(), Logger: log.NewTestLogger()}
	first, err := b.Build(context.Background(), bundleRequest(src))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.buildBundle(ctx, Request{
		Target: "dev", Source: src,
		Bundle: BundleOptions{OutputDir: "dist"},
	}, log.NewTestLogger())
	require.Error(t, err)

	names := zipNames(t, first.Path)
	assert.Contains(t, names, "dist/main.js")
	entries, _ := os.ReadDir(filepath.Dir(first.Path))
	assert.Len(t, entries, 1)
}

func TestBuildRequiresTarget(t *testing.T) {
	_, err := (&Builder{}).Build(context.Background(), Request{Transport: types.TransportBundle})
	assert.True(t, types.IsKind(err, types.KindBuildFailed))
}

func imageRequest(src string) Request {
	return Request{
		Target:    "prod",
		Source:    src,
		Transport: types.TransportImage,
		Image:     ImageOptions{Repository: "your-app", Platform: "linux/amd64", BuildTarget: "runtime"},
	}
}

func TestBuildImage(t *testing.T) {
	src := nestProject(t)
	writeFile(t, src, "Dockerfile", "FROM public.ecr.aws/lambda/nodejs:20\nCOPY dist ./\n")
	engine := docker.NewFakeEngine()
	b := &Builder{Engine: lazy.Of[docker.Engine](engine), Logger: log.NewTestLogger()}

	art, err := b.Build(context.Background(), imageRequest(src))
	require.NoError(t, err)

	assert.Equal(t, types.TransportImage, art.Transport)
	assert.Equal(t, "your-app:prod", art.ImageRef)
	assert.Equal(t, "sha256:built", art.Digest)

	require.Len(t, engine.BuildOpts, 1)
	opts := engine.BuildOpts[0]
	assert.Equal(t, "Dockerfile", opts.Dockerfile)
	assert.Equal(t, "runtime", opts.Target)
	assert.Equal(t, "linux/amd64", opts.Platform)
	assert.Equal(t, []string{"your-app:prod"}, opts.Tags)
	assert.Greater(t, engine.ContextLen, 0)
}

func TestBuildImageStreamError(t *testing.T) {
	src := nestProject(t)
	writeFile(t, src, "Dockerfile", "FROM scratch\n")
	engine := docker.NewFakeEngine()
	engine.BuildStream = `{"errorDetail":{"message":"COPY failed: file not found"},"error":"COPY failed: file not found"}`
	b := &Builder{Engine: lazy.Of[docker.Engine](engine), Logger: log.NewTestLogger()}

	_, err := b.Build(context.Background(), imageRequest(src))
	assert.True(t, types.IsKind(err, types.KindBuildFailed))
	assert.Contains(t, err.Error(), "COPY failed")
}

func TestBuildImageMissingAfterBuild(t *testing.T) {
	src := nestProject(t)
	engine := docker.NewFakeEngine()
	// A stream without errors that tags nothing.
	engine.BuildStream = `{"stream":"done\n"}`
	b := &Builder{Engine: lazy.Of[docker.Engine](engine), Logger: log.NewTestLogger()}

	_, err := b.Build(context.Background(), imageRequest(src))
	assert.True(t, types.IsKind(err, types.KindBuildFailed))
	assert.Contains(t, err.Error(), "not found after build")
}

func TestBuildImageDaemonDown(t *testing.T) {
	engine := lazy.New(func(ctx context.Context) (docker.Engine, error) {
		return nil, errors.New("cannot connect to the Docker daemon")
	})
	b := &Builder{Engine: engine, Logger: log.NewTestLogger()}

	_, err := b.Build(context.Background(), imageRequest(t.TempDir()))
	assert.True(t, types.IsKind(err, types.KindBuildFailed))
}

func tarNames(t *testing.T, r io.Reader) []string {
	t.Helper()
	var names []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
}

func TestTarContextHonorsDockerignore(t *testing.T) {
	src := nestProject(t)
	writeFile(t, src, "Dockerfile", "FROM scratch\n")
	writeFile(t, src, ".dockerignore", "# deps\nnode_modules\n**/*.ts\n!src/keep.ts\n")
	writeFile(t, src, "src/keep.ts", "keep")
	writeFile(t, src, ".lambdeploy/build/dev.zip", "zip")

	ignore, err := loadIgnore(src)
	require.NoError(t, err)
	ignore.add(".lambdeploy")

	rc, wait := tarContext(context.Background(), src, ignore, "Dockerfile")
	names := tarNames(t, rc)
	require.NoError(t, wait())

	assert.Contains(t, names, "Dockerfile")
	assert.Contains(t, names, ".dockerignore")
	assert.Contains(t, names, "dist/main.js")
	assert.Contains(t, names, "src/keep.ts")
	assert.NotContains(t, names, "src/main.ts")
	assert.NotContains(t, names, "node_modules/@nestjs/core/index.js")
	assert.NotContains(t, names, ".lambdeploy/build/dev.zip")
}

func TestIgnorePatterns(t *testing.T) {
	l := &ignoreList{}
	l.add("*.md")
	l.add("docs/")
	l.add("!README.md")

	assert.True(t, l.excluded("CHANGELOG.md"))
	assert.False(t, l.excluded("README.md"))
	assert.True(t, l.excluded("docs/guide/intro.txt"))
	assert.False(t, l.excluded("dist/docs.js"))
	assert.False(t, l.excluded("sub/CHANGELOG.md"))
}
