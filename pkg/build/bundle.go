package build

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/runner"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// zipEpoch is the modification time of every entry. Zip cannot store
// anything earlier.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

func (b *Builder) buildBundle(ctx context.Context, req Request, logger log.Logger) (types.Artifact, error) {
	opts := req.Bundle
	if len(opts.BuildCommand) > 0 {
		logger.Info("Running build command", log.Strs("cmd", opts.BuildCommand))
		_, err := b.runner().Run(ctx, runner.Options{
			Command:    opts.BuildCommand,
			WorkingDir: req.Source,
			Env:        req.Env,
			Stdout:     b.Output,
			Stderr:     b.Output,
		})
		if err != nil {
			if ctx.Err() != nil {
				return types.Artifact{}, types.WrapError(types.KindTimeout, ctx.Err(), "build command")
			}
			return types.Artifact{}, buildErr(err, "build command failed")
		}
	}

	if opts.Entry != "" {
		entry := filepath.Join(req.Source, opts.Entry)
		info, err := os.Stat(entry)
		if err != nil || info.IsDir() {
			return types.Artifact{}, buildErr(nil, "entry point %s was not produced by the build", opts.Entry)
		}
	}

	paths := append([]string{}, opts.Include...)
	if opts.OutputDir != "" {
		paths = append([]string{opts.OutputDir}, paths...)
	}
	files, err := collect(req.Source, paths)
	if err != nil {
		return types.Artifact{}, buildErr(err, "collect bundle files")
	}
	if len(files) == 0 {
		return types.Artifact{}, buildErr(nil, "nothing to bundle in %s", strings.Join(paths, ", "))
	}

	dir := req.buildDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Artifact{}, buildErr(err, "create build directory")
	}
	final := filepath.Join(dir, req.Target+".zip")
	digest, size, err := writeZipAtomic(ctx, req.Source, files, final)
	if err != nil {
		if ctx.Err() != nil {
			return types.Artifact{}, types.WrapError(types.KindTimeout, ctx.Err(), "write bundle")
		}
		return types.Artifact{}, buildErr(err, "write bundle")
	}

	logger.Debug("Bundle written", log.Str("path", final), log.Int("files", len(files)), log.Int64("bytes", size))
	return types.Artifact{
		Transport: types.TransportBundle,
		Path:      final,
		Digest:    digest,
		SizeBytes: size,
		BuiltAt:   time.Now().UTC(),
	}, nil
}

// collect returns the slash-separated relative paths of every regular file
// and symlink under the given roots, sorted and deduplicated. Missing
// optional roots are skipped except the first, which is the output dir.
func collect(source string, roots []string) ([]string, error) {
	seen := map[string]bool{}
	for i, root := range roots {
		abs := filepath.Join(source, root)
		if _, err := os.Lstat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) && i > 0 {
				continue
			}
			return nil, err
		}
		err := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			rel, err := filepath.Rel(source, path)
			if err != nil {
				return err
			}
			seen[filepath.ToSlash(rel)] = true
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// writeZipAtomic writes the zip to a temp file next to final and renames it
// into place, so final is either the previous or the complete new bundle.
func writeZipAtomic(ctx context.Context, source string, files []string, final string) (string, int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(final), ".bundle-*.zip")
	if err != nil {
		return "", 0, err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	zw := zip.NewWriter(io.MultiWriter(tmp, h))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		if err := addZipEntry(zw, source, rel); err != nil {
			return "", 0, fmt.Errorf("%s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", 0, err
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", 0, err
	}
	committed = true
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), info.Size(), nil
}

func addZipEntry(zw *zip.Writer, source, rel string) error {
	path := filepath.Join(source, filepath.FromSlash(rel))
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	hdr := &zip.FileHeader{Name: rel, Method: zip.Deflate, Modified: zipEpoch}
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		hdr.Method = zip.Store
		hdr.SetMode(fs.ModeSymlink | 0o777)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, target)
		return err
	}

	// Only the executable bit survives; Lambda ignores the rest.
	mode := fs.FileMode(0o644)
	if info.Mode()&0o111 != 0 {
		mode = 0o755
	}
	hdr.SetMode(mode)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
