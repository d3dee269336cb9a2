package server

import (
	"io"
	"os"
	"time"
)

// Driver authenticates a control connection and hands back a
// session-scoped ClientContext. Grounded on the teacher's Driver/
// ClientContext split; adapted so metadata methods return the
// filesystem-agnostic direntInfo record DirentFormatter renders, cwd
// tracking moves to the session (PathResolver owns path algebra, not the
// driver), and OpenFile returns a seekable handle so REST can position
// an offset before RETR/STOR start pumping, per spec.md §4.6.4 (APPE
// ignores the restart position).
type Driver interface {
	// Authenticate validates user/pass. host carries the HOST command's
	// argument (RFC 7151) for virtual hosting; it may be empty.
	Authenticate(user, pass, host string) (ClientContext, error)
}

// FileHandle is what OpenFile returns: readable/writable and seekable so
// REST can position a RETR/STOR transfer before it starts.
type FileHandle interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// ClientContext isolates one authenticated session's view of a
// filesystem. Every path passed in has already been resolved (absolute,
// "."/".." collapsed) by PathResolver; the context need only validate it
// against its own root and permission model.
//
// Error handling:
//   - Return os.ErrNotExist when files/directories don't exist
//   - Return os.ErrPermission for permission denied errors
//   - Return os.ErrExist when files/directories already exist
//
// Implementations need only be safe for use by the single session that
// owns them; the engine never calls a ClientContext from more than one
// goroutine at a time.
type ClientContext interface {
	// Stat returns metadata for path. Returns os.ErrNotExist if absent.
	Stat(path string) (direntInfo, error)

	// IsDir reports whether path exists and is a directory; PathResolver
	// uses this to validate a resolved path's parent per spec.md §4.3.
	IsDir(path string) (bool, error)

	// ReadDir lists path's direct children.
	// Returns os.ErrNotExist if the directory doesn't exist.
	ReadDir(path string) ([]direntInfo, error)

	// OpenFile opens a file for transfer. flag uses os.O_* constants
	// (os.O_RDONLY, os.O_WRONLY|os.O_CREATE, os.O_APPEND, ...).
	// Returns os.ErrNotExist if the file doesn't exist (for reading).
	OpenFile(path string, flag int) (FileHandle, error)

	// MakeDir creates a new directory.
	// Returns os.ErrExist if the directory already exists.
	MakeDir(path string) error

	// RemoveDir removes an empty directory.
	// Returns os.ErrNotExist if the directory doesn't exist.
	RemoveDir(path string) error

	// DeleteFile removes a file.
	// Returns os.ErrNotExist if the file doesn't exist.
	DeleteFile(path string) error

	// Rename moves or renames a file or directory.
	// Returns os.ErrNotExist if the source doesn't exist.
	Rename(fromPath, toPath string) error

	// Chmod changes the mode of the file. Used by SITE CHMOD.
	// Returns os.ErrNotExist if the file doesn't exist.
	Chmod(path string, mode os.FileMode) error

	// SetTime sets the modification time of a file. Used by MFMT.
	// Returns os.ErrNotExist if the file doesn't exist.
	SetTime(path string, t time.Time) error

	// Hash calculates the hash of a file using the specified algorithm.
	// Supported algorithms: "SHA-256", "SHA-512", "SHA-1", "MD5", "CRC32".
	Hash(path string, algo string) (string, error)

	// Close releases any resources associated with this context.
	// Called once, when the session ends.
	Close() error

	// GetSettings returns the session settings for passive mode
	// configuration. May return nil if no special settings are needed.
	GetSettings() *Settings
}

// Settings carries server configuration a ClientContext may want to
// influence, such as the address PASV/EPSV advertise.
type Settings struct {
	// PublicHost is the hostname or IP address advertised in PASV/EPSV
	// responses. If set to a hostname, the server resolves it on each
	// PASV/EPSV and uses the first IPv4 address found. If empty, the
	// server uses the control connection's local address. Required
	// behind NAT or in containerized environments.
	PublicHost string

	// PasvMinPort/PasvMaxPort are not read by the session: PASV/EPSV
	// always allocate from Config.PasvPortLo/PasvPortHi (default
	// [5001, 10000)), whatever these fields hold.
	PasvMinPort int
	PasvMaxPort int
}
