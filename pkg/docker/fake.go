package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
)

// FakeEngine is an in-memory Engine for tests. Built images are recorded by
// tag; pushes are recorded by reference.
type FakeEngine struct {
	mu sync.Mutex

	PingErr  error
	BuildErr error
	// BuildStream overrides the default successful build stream.
	BuildStream string
	PushErr     error
	PushStream  string

	Images     map[string]string // tag -> image ID
	Pushed     []string
	PushAuth   []string
	BuildOpts  []build.ImageBuildOptions
	ContextLen int
}

var _ Engine = (*FakeEngine)(nil)

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{Images: map[string]string{}}
}

func (f *FakeEngine) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.47"}, f.PingErr
}

func (f *FakeEngine) ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := io.Copy(io.Discard, buildContext)
	f.ContextLen = int(n)
	f.BuildOpts = append(f.BuildOpts, options)
	if f.BuildErr != nil {
		return build.ImageBuildResponse{}, f.BuildErr
	}
	stream := f.BuildStream
	if stream == "" {
		stream = `{"stream":"Successfully built\n"}` + "\n" + `{"aux":{"ID":"sha256:built"}}`
		for _, tag := range options.Tags {
			f.Images[tag] = "sha256:built"
		}
	}
	return build.ImageBuildResponse{Body: io.NopCloser(bytes.NewBufferString(stream))}, nil
}

func (f *FakeEngine) ImageInspectWithRaw(ctx context.Context, ref string) (image.InspectResponse, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.Images[ref]
	if !ok {
		return image.InspectResponse{}, nil, errors.New("No such image: " + ref)
	}
	return image.InspectResponse{ID: id, RepoTags: []string{ref}, Size: 4096}, nil, nil
}

func (f *FakeEngine) ImageTag(ctx context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.Images[source]
	if !ok {
		return errors.New("No such image: " + source)
	}
	f.Images[target] = id
	return nil
}

func (f *FakeEngine) ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PushErr != nil {
		return nil, f.PushErr
	}
	f.PushAuth = append(f.PushAuth, options.RegistryAuth)
	stream := f.PushStream
	if stream == "" {
		f.Pushed = append(f.Pushed, ref)
		stream = `{"status":"Pushed"}` + "\n" + `{"aux":{"Digest":"sha256:pushed"}}`
	}
	return io.NopCloser(bytes.NewBufferString(stream)), nil
}
