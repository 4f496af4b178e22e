package build

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ignoreRule is one .dockerignore line.
type ignoreRule struct {
	re     *regexp.Regexp
	negate bool
}

type ignoreList struct {
	rules []ignoreRule
}

// loadIgnore reads source/.dockerignore. A missing file ignores nothing.
func loadIgnore(source string) (*ignoreList, error) {
	l := &ignoreList{}
	f, err := os.Open(filepath.Join(source, ".dockerignore"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l.add(line)
	}
	return l, sc.Err()
}

func (l *ignoreList) add(pattern string) {
	negate := strings.HasPrefix(pattern, "!")
	pattern = strings.TrimPrefix(pattern, "!")
	pattern = strings.Trim(filepath.ToSlash(filepath.Clean(pattern)), "/")
	if pattern == "" || pattern == "." {
		return
	}
	l.rules = append(l.rules, ignoreRule{re: compileGlob(pattern), negate: negate})
}

// compileGlob turns a .dockerignore glob into a regexp over slash paths.
// A pattern also matches everything below a matching directory.
func compileGlob(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
				if i+1 < len(pattern) && pattern[i+1] == '/' {
					i++
					b.WriteString("(.*/)?")
				} else {
					b.WriteString(".*")
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("(/.*)?$")
	return regexp.MustCompile(b.String())
}

// excluded applies the rules in order; the last matching rule wins.
func (l *ignoreList) excluded(rel string) bool {
	out := false
	for _, r := range l.rules {
		if r.re.MatchString(rel) {
			out = !r.negate
		}
	}
	return out
}

// tarContext streams source as a tar archive. The Dockerfile and
// .dockerignore are always sent. wait returns the writer's error once the
// reader is drained or closed.
func tarContext(ctx context.Context, source string, ignore *ignoreList, dockerfile string) (io.ReadCloser, func() error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	keep := map[string]bool{
		filepath.ToSlash(filepath.Clean(dockerfile)): true,
		".dockerignore": true,
	}

	go func() {
		err := writeTar(ctx, pw, source, ignore, keep)
		_ = pw.CloseWithError(err)
		done <- err
	}()

	return pr, func() error { return <-done }
}

func writeTar(ctx context.Context, w io.Writer, source string, ignore *ignoreList, keep map[string]bool) error {
	tw := tar.NewWriter(w)
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ignore.excluded(rel) && !keep[rel] {
			if d.IsDir() && !hasKeptChild(rel, keep) {
				return filepath.SkipDir
			}
			if !d.IsDir() {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid, hdr.Uname, hdr.Gname = 0, 0, "", ""
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func hasKeptChild(dir string, keep map[string]bool) bool {
	for k := range keep {
		if strings.HasPrefix(k, dir+"/") {
			return true
		}
	}
	return false
}
