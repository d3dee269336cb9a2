package server

import (
	"fmt"
	"os"
	"time"
)

// direntInfo is the stat-like record DirentFormatter renders. It mirrors
// what a POSIX stat(2) call yields, kept filesystem-agnostic so both the
// default FSDriver and an alternate Driver can produce it.
type direntInfo struct {
	Name  string
	Mode  os.FileMode
	Size  int64
	Mtime time.Time
	Nlink uint32
	Uid   uint32
	Gid   uint32
}

// mlstOptions mirrors the session's mlst_type/mlst_size/mlst_modify/
// mlst_perm/mlst_unix_mode bits from spec.md §3.
type mlstOptions struct {
	Type     bool
	Size     bool
	Modify   bool
	Perm     bool
	UnixMode bool
}

func defaultMLSTOptions() mlstOptions {
	return mlstOptions{Type: true, Size: true, Modify: true, Perm: true, UnixMode: false}
}

// typeChar returns the ls(1) type character for mode.
func typeChar(mode os.FileMode) byte {
	switch {
	case mode&os.ModeSymlink != 0:
		return 'l'
	case mode.IsDir():
		return 'd'
	case mode&os.ModeNamedPipe != 0:
		return 'p'
	case mode&os.ModeSocket != 0:
		return 's'
	case mode&os.ModeCharDevice != 0:
		return 'c'
	case mode&os.ModeDevice != 0:
		return 'b'
	default:
		return '-'
	}
}

// rwxTriplet renders the 9 rwx characters for mode's permission bits.
func rwxTriplet(perm os.FileMode) string {
	letters := [9]byte{'r', 'w', 'x', 'r', 'w', 'x', 'r', 'w', 'x'}
	out := [9]byte{}
	for i := 0; i < 9; i++ {
		bit := os.FileMode(1) << uint(8-i)
		if perm&bit != 0 {
			out[i] = letters[i]
		} else {
			out[i] = '-'
		}
	}
	return string(out[:])
}

// formatListLine renders one LIST/STAT entry: "type rwxrwxrwx nlink owner
// group size mtime name\r\n". now is the session clock used to decide
// between the "recent" and "old" timestamp formats.
func formatListLine(buf *ioBuffer, d direntInfo, now time.Time) error {
	var ts string
	if now.Sub(d.Mtime) < 183*24*time.Hour && now.Sub(d.Mtime) > -24*time.Hour {
		ts = d.Mtime.Format("Jan _2 15:04")
	} else {
		ts = d.Mtime.Format("Jan _2  2006")
	}

	line := fmt.Sprintf("%c%s %4d %-8s %-8s %8d %s %s\r\n",
		typeChar(d.Mode), rwxTriplet(d.Mode.Perm()), maxu32(d.Nlink, 1),
		ownerName(d.Uid), groupName(d.Gid), d.Size, ts, d.Name)
	return buf.appendLine(line)
}

// formatNLSTLine renders a bare-path NLST entry.
func formatNLSTLine(buf *ioBuffer, d direntInfo) error {
	return buf.appendLine(d.Name + "\r\n")
}

// formatSTATLine is byte-identical to formatListLine: STAT with an
// argument is "like LIST but over the control channel" per spec.md
// §4.6.5. The leading-space indent of MLST-over-control comes from
// formatMLxLine and is not applied to STAT lines.
func formatSTATLine(buf *ioBuffer, d direntInfo, now time.Time) error {
	return formatListLine(buf, d, now)
}

// mlstFacts renders the "fact=value;" prefix for d given which option
// bits are set. entryType lets the caller force "cdir" for the directory
// self-entry MLSD emits first.
func mlstFacts(d direntInfo, opts mlstOptions, entryType string) string {
	var out []byte
	if opts.Type {
		t := entryType
		if t == "" {
			t = unixEntryType(d.Mode)
		}
		out = append(out, "Type="+t+";"...)
	}
	if opts.Size {
		out = append(out, fmt.Sprintf("Size=%d;", d.Size)...)
	}
	if opts.Modify {
		out = append(out, "Modify="+d.Mtime.UTC().Format("20060102150405")+";"...)
	}
	if opts.Perm {
		out = append(out, "Perm="+permFacts(d.Mode)+";"...)
	}
	if opts.UnixMode {
		out = append(out, fmt.Sprintf("UNIX.mode=0%o;", uint32(d.Mode.Perm()))...)
	}
	return string(out)
}

func unixEntryType(mode os.FileMode) string {
	switch {
	case mode.IsDir():
		return "dir"
	case mode&os.ModeSymlink != 0:
		return "os.unix=symlink"
	case mode&os.ModeCharDevice != 0:
		return "os.unix=character"
	case mode&os.ModeDevice != 0:
		return "os.unix=block"
	case mode&os.ModeNamedPipe != 0:
		return "os.unix=fifo"
	case mode&os.ModeSocket != 0:
		return "os.unix=socket"
	default:
		return "file"
	}
}

// permFacts derives the RFC 3659 "Perm" capability letters from mode.
// "d" and "f" are always present; "e" and "l" require a readable (and,
// for "e", searchable) directory; "c", "m", "p" require a writable
// directory; "a" and "w" require a writable non-directory and "r" a
// readable one; see spec.md §4.4 for the full letter table.
func permFacts(mode os.FileMode) string {
	perm := mode.Perm()
	readable := perm&0400 != 0
	writable := perm&0200 != 0
	searchable := perm&0100 != 0
	isDir := mode.IsDir()

	var out []byte
	if !isDir && writable {
		out = append(out, 'a')
	}
	if isDir && writable {
		out = append(out, 'c')
	}
	out = append(out, 'd')
	if isDir && readable && searchable {
		out = append(out, 'e')
	}
	out = append(out, 'f')
	if isDir && readable {
		out = append(out, 'l')
	}
	if isDir && writable {
		out = append(out, 'm')
	}
	if isDir && writable {
		out = append(out, 'p')
	}
	if !isDir && readable {
		out = append(out, 'r')
	}
	if !isDir && writable {
		out = append(out, 'w')
	}
	return string(out)
}

// formatMLxLine renders one MLSD/MLST fact line: "facts name\r\n". When
// indent is true (MLST/STAT-over-control, per spec.md §4.4) a leading
// space precedes the facts.
func formatMLxLine(buf *ioBuffer, d direntInfo, opts mlstOptions, entryType string, indent bool) error {
	prefix := ""
	if indent {
		prefix = " "
	}
	line := prefix + mlstFacts(d, opts, entryType) + " " + d.Name + "\r\n"
	return buf.appendLine(line)
}

func maxu32(n uint32, min uint32) uint32 {
	if n < min {
		return min
	}
	return n
}

// ownerName/groupName are deliberately numeric-name stubs: the spec notes
// ("The source formats ls-style owner/group as literal platform names on
// constrained systems; whether this is required for real clients is
// unverified") leaves this unresolved, so resolving uid/gid to an
// /etc/passwd-style name is left to a richer Driver; the default FSDriver
// reports the raw uid/gid as decimal strings, matching what a namespaced
// container filesystem can actually answer.
func ownerName(uid uint32) string { return fmt.Sprintf("%d", uid) }
func groupName(gid uint32) string { return fmt.Sprintf("%d", gid) }
