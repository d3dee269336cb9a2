package server

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Sentinel errors translated to FTP response codes per spec.md §7.
var (
	errNotDirectory  = errors.New("server: parent is not a directory")
	errInvalidName   = errors.New("server: invalid file name")
	errNoDataChannel = errors.New("server: no data connection setup")
)

// unixShutWr is the shutdown(2) "how" value for half-closing the write
// side, used by QUIT's half-close per spec.md §5.
const unixShutWr = unix.SHUT_WR

func isNotExist(err error) bool   { return os.IsNotExist(err) }
func isPermission(err error) bool { return os.IsPermission(err) }
func isExist(err error) bool      { return os.IsExist(err) }
