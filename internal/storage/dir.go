package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type Option func(*Dir)

// Dir serves files from a single root directory. Names are confined to the
// root; ".." components are stripped.
type Dir struct {
	root           string
	disableCreate  bool
	allowOverwrite bool
}

func NewDir(root string, options ...Option) (*Dir, error) {
	stat, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("server root %s is not a directory", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	d := &Dir{root: abs}
	for _, option := range options {
		option(d)
	}
	return d, nil
}

func WithDisableCreate(d *Dir) {
	d.disableCreate = true
}

func WithAllowOverwrite(d *Dir) {
	d.allowOverwrite = true
}

func (d *Dir) Root() string {
	return d.root
}

// Open returns the named file for reading.
func (d *Dir) Open(name string) (io.ReadCloser, error) {
	path, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if stat, err := f.Stat(); err == nil && stat.IsDir() {
		f.Close()
		return nil, fs.ErrPermission
	}
	return f, nil
}

// Create returns the named file for writing. Existing files are only
// replaced when overwriting is allowed; new files only when creation is.
func (d *Dir) Create(name string) (io.WriteCloser, error) {
	path, err := d.resolve(name)
	if err != nil {
		return nil, err
	}

	exists := fileExists(path)
	if exists && !d.allowOverwrite {
		return nil, fs.ErrExist
	}
	if !exists && d.disableCreate {
		return nil, fs.ErrPermission
	}
	return os.Create(path)
}

func (d *Dir) Remove(name string) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return err
	}
	if stat.IsDir() {
		return fs.ErrPermission
	}
	return os.Remove(path)
}

func (d *Dir) resolve(name string) (string, error) {
	name = strings.ReplaceAll(name, "..", "") // Prevent escaping from root directory
	name = strings.TrimLeft(filepath.FromSlash(name), string(filepath.Separator))
	if name == "" {
		return "", fs.ErrNotExist
	}
	path := filepath.Join(d.root, name)
	rel, err := filepath.Rel(d.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.Join(fs.ErrPermission, fmt.Errorf("%s escapes root", name))
	}
	return path, nil
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
