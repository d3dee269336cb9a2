package server

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// FSDriver implements Driver using the local filesystem, jailed with
// os.Root the same way the teacher's client-side driver is. Adapted for
// the stateless ClientContext contract: paths arrive pre-resolved by
// PathResolver, so fsContext no longer tracks a cwd.
type FSDriver struct {
	rootPath string

	authenticator func(user, pass, host string) (string, bool, error)

	disableAnonymous bool
	enableAnonWrite  bool

	settings *Settings
}

// FSDriverOption is a functional option for configuring an FSDriver.
type FSDriverOption func(*FSDriver)

// NewFSDriver creates a filesystem driver rooted at rootPath.
func NewFSDriver(rootPath string, options ...FSDriverOption) (*FSDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	rootPath, err = filepath.EvalSymlinks(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	d := &FSDriver{rootPath: rootPath}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// WithAuthenticator sets a custom authentication function returning the
// per-user root path and whether that user is read-only.
func WithAuthenticator(fn func(user, pass, host string) (string, bool, error)) FSDriverOption {
	return func(d *FSDriver) { d.authenticator = fn }
}

// WithDisableAnonymous disables anonymous login when no Authenticator is set.
func WithDisableAnonymous(disable bool) FSDriverOption {
	return func(d *FSDriver) { d.disableAnonymous = disable }
}

// WithAnonWrite allows anonymous users to write. Default is read-only.
func WithAnonWrite(enable bool) FSDriverOption {
	return func(d *FSDriver) { d.enableAnonWrite = enable }
}

// WithSettings attaches PASV/EPSV advertising settings to the driver.
func WithSettings(settings *Settings) FSDriverOption {
	return func(d *FSDriver) { d.settings = settings }
}

// Authenticate returns a new fsContext for the user. When no
// Authenticator is configured it admits only the anonymous users "ftp"
// and "anonymous", read-only unless WithAnonWrite is set.
func (d *FSDriver) Authenticate(user, pass, host string) (ClientContext, error) {
	rootPath := d.rootPath
	readOnly := false

	if d.authenticator != nil {
		var err error
		rootPath, readOnly, err = d.authenticator(user, pass, host)
		if err != nil {
			return nil, err
		}
	} else {
		if d.disableAnonymous {
			return nil, errors.New("anonymous login disabled")
		}
		if user != "ftp" && user != "anonymous" {
			return nil, errors.New("only anonymous login allowed")
		}
		readOnly = !d.enableAnonWrite
	}

	root, err := os.OpenRoot(rootPath)
	if err != nil {
		return nil, err
	}

	return &fsContext{
		rootHandle: root,
		rootPath:   rootPath,
		readOnly:   readOnly,
		settings:   d.settings,
	}, nil
}

// fsContext implements ClientContext for the local filesystem, jailed
// within rootHandle. It is stateless across calls: every path it
// receives is already absolute and resolved.
type fsContext struct {
	rootHandle *os.Root
	rootPath   string
	readOnly   bool
	settings   *Settings
}

func (c *fsContext) Close() error {
	return c.rootHandle.Close()
}

// rel converts an absolute resolved path to one relative to rootHandle.
func (c *fsContext) rel(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "."
	}
	return path
}

func (c *fsContext) Stat(path string) (direntInfo, error) {
	info, err := c.rootHandle.Stat(c.rel(path))
	if err != nil {
		return direntInfo{}, err
	}
	return toDirentInfo(info), nil
}

func (c *fsContext) IsDir(path string) (bool, error) {
	info, err := c.rootHandle.Stat(c.rel(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (c *fsContext) ReadDir(path string) ([]direntInfo, error) {
	f, err := c.rootHandle.Open(c.rel(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && !info.IsDir() {
		return nil, errNotDirectory
	}

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	out := make([]direntInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, toDirentInfo(info))
	}
	return out, nil
}

func (c *fsContext) OpenFile(path string, flag int) (FileHandle, error) {
	if c.readOnly {
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
			return nil, os.ErrPermission
		}
	}
	return c.rootHandle.OpenFile(c.rel(path), flag, 0644)
}

func (c *fsContext) MakeDir(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.rootHandle.Mkdir(c.rel(path), 0755)
}

func (c *fsContext) RemoveDir(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.rootHandle.Remove(c.rel(path))
}

func (c *fsContext) DeleteFile(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.rootHandle.Remove(c.rel(path))
}

// Rename moves fromPath to toPath. os.Root has no Rename, so this falls
// back to os.Rename against the real paths after confirming both resolve
// inside rootPath, mirroring the teacher's symlink-escape check.
func (c *fsContext) Rename(fromPath, toPath string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	srcFull := filepath.Join(c.rootPath, c.rel(fromPath))
	dstFull := filepath.Join(c.rootPath, c.rel(toPath))

	realSrc, err := filepath.EvalSymlinks(srcFull)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return err
	}
	if !strings.HasPrefix(realSrc, c.rootPath) {
		return os.ErrPermission
	}

	dstParent := filepath.Dir(dstFull)
	if realDstParent, err := filepath.EvalSymlinks(dstParent); err == nil {
		if !strings.HasPrefix(realDstParent, c.rootPath) {
			return os.ErrPermission
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	return os.Rename(srcFull, dstFull)
}

func (c *fsContext) Chmod(path string, mode os.FileMode) error {
	if c.readOnly {
		return os.ErrPermission
	}
	if mode > 0777 {
		return os.ErrInvalid
	}
	f, err := c.rootHandle.OpenFile(c.rel(path), os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Chmod(mode)
}

func (c *fsContext) SetTime(path string, t time.Time) error {
	if c.readOnly {
		return os.ErrPermission
	}
	fullPath := filepath.Join(c.rootPath, c.rel(path))
	realPath, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return err
	}
	if !strings.HasPrefix(realPath, c.rootPath) {
		return os.ErrPermission
	}
	return os.Chtimes(fullPath, t, t)
}

func (c *fsContext) Hash(path string, algo string) (string, error) {
	f, err := c.rootHandle.Open(c.rel(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var h interface {
		io.Writer
		Sum(b []byte) []byte
	}
	switch strings.ToUpper(algo) {
	case "SHA-256", "SHA256":
		h = sha256.New()
	case "SHA-512", "SHA512":
		h = sha512.New()
	case "SHA-1", "SHA1":
		h = sha1.New()
	case "MD5":
		h = md5.New()
	case "CRC32":
		h = crc32.NewIEEE()
	default:
		return "", errors.New("unsupported algorithm")
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *fsContext) GetSettings() *Settings {
	if c.settings == nil {
		return &Settings{}
	}
	return c.settings
}

// toDirentInfo extracts the fields direntInfo needs from an os.FileInfo.
// Uid/Gid come from the platform-specific syscall.Stat_t that Sys()
// returns on Linux; there's no third-party stat wrapper in the example
// pack, so this one extraction stays on the standard library (documented
// in DESIGN.md).
func toDirentInfo(info os.FileInfo) direntInfo {
	d := direntInfo{
		Name:  info.Name(),
		Mode:  info.Mode(),
		Size:  info.Size(),
		Mtime: info.ModTime(),
		Nlink: 1,
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		d.Uid = st.Uid
		d.Gid = st.Gid
		d.Nlink = uint32(st.Nlink)
	}
	return d
}
