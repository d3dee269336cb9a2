package server

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestTypeChar(t *testing.T) {
	if c := typeChar(os.ModeDir | 0755); c != 'd' {
		t.Errorf("dir typeChar = %c, want d", c)
	}
	if c := typeChar(0644); c != '-' {
		t.Errorf("file typeChar = %c, want -", c)
	}
	if c := typeChar(os.ModeSymlink | 0777); c != 'l' {
		t.Errorf("symlink typeChar = %c, want l", c)
	}
}

func TestRwxTriplet(t *testing.T) {
	if got := rwxTriplet(0755); got != "rwxr-xr-x" {
		t.Errorf("rwxTriplet(0755) = %q", got)
	}
	if got := rwxTriplet(0644); got != "rw-r--r--" {
		t.Errorf("rwxTriplet(0644) = %q", got)
	}
	if got := rwxTriplet(0); got != "---------" {
		t.Errorf("rwxTriplet(0) = %q", got)
	}
}

func TestFormatListLine(t *testing.T) {
	buf := newIOBuffer(256)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := direntInfo{Name: "file.txt", Mode: 0644, Size: 1234, Mtime: now.Add(-time.Hour), Nlink: 1, Uid: 1000, Gid: 1000}
	if err := formatListLine(buf, d, now); err != nil {
		t.Fatal(err)
	}
	line := string(buf.usedArea())
	if !strings.HasPrefix(line, "-rw-r--r--") {
		t.Errorf("line = %q, want prefix -rw-r--r--", line)
	}
	if !strings.Contains(line, "file.txt") {
		t.Errorf("line missing name: %q", line)
	}
	if !strings.HasSuffix(line, "\r\n") {
		t.Errorf("line missing CRLF terminator: %q", line)
	}
}

func TestFormatListLineOldTimestamp(t *testing.T) {
	buf := newIOBuffer(256)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-400 * 24 * time.Hour)
	d := direntInfo{Name: "old.txt", Mode: 0644, Mtime: old, Nlink: 1}
	if err := formatListLine(buf, d, now); err != nil {
		t.Fatal(err)
	}
	line := string(buf.usedArea())
	if !strings.Contains(line, old.Format("2006")) {
		t.Errorf("expected year in old-style timestamp, got %q", line)
	}
}

func TestFormatNLSTLine(t *testing.T) {
	buf := newIOBuffer(64)
	if err := formatNLSTLine(buf, direntInfo{Name: "bare.txt"}); err != nil {
		t.Fatal(err)
	}
	if got := string(buf.usedArea()); got != "bare.txt\r\n" {
		t.Errorf("got %q", got)
	}
}

func TestMlstFactsAllOptions(t *testing.T) {
	opts := mlstOptions{Type: true, Size: true, Modify: true, Perm: true, UnixMode: true}
	d := direntInfo{Size: 42, Mode: os.ModeDir | 0755, Mtime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	facts := mlstFacts(d, opts, "")
	for _, want := range []string{"Type=dir;", "Size=42;", "Modify=20260102030405;", "UNIX.mode=0755;"} {
		if !strings.Contains(facts, want) {
			t.Errorf("facts %q missing %q", facts, want)
		}
	}
}

func TestMlstFactsEntryTypeOverride(t *testing.T) {
	opts := mlstOptions{Type: true}
	d := direntInfo{Mode: os.ModeDir | 0755}
	facts := mlstFacts(d, opts, "cdir")
	if !strings.Contains(facts, "Type=cdir;") {
		t.Errorf("expected forced cdir type, got %q", facts)
	}
}

func TestPermFactsDirectoryWritable(t *testing.T) {
	facts := permFacts(os.ModeDir | 0755)
	for _, c := range []byte{'c', 'd', 'e', 'f', 'l', 'm', 'p'} {
		if !strings.ContainsRune(facts, rune(c)) {
			t.Errorf("permFacts(dir,0755) = %q, missing %c", facts, c)
		}
	}
}

func TestPermFactsReadOnlyFile(t *testing.T) {
	facts := permFacts(0444)
	if strings.ContainsRune(facts, 'w') {
		t.Errorf("permFacts(file,0444) = %q, should not contain w", facts)
	}
	if !strings.ContainsRune(facts, 'r') {
		t.Errorf("permFacts(file,0444) = %q, should contain r", facts)
	}
}

func TestFormatMLxLineIndent(t *testing.T) {
	buf := newIOBuffer(256)
	opts := mlstOptions{Type: true}
	d := direntInfo{Name: "x", Mode: 0644}
	if err := formatMLxLine(buf, d, opts, "", true); err != nil {
		t.Fatal(err)
	}
	if got := string(buf.usedArea()); !strings.HasPrefix(got, " Type=") {
		t.Errorf("expected leading-space indent for control-channel MLST, got %q", got)
	}
}

func TestFormatMLxLineNoIndent(t *testing.T) {
	buf := newIOBuffer(256)
	opts := mlstOptions{Type: true}
	d := direntInfo{Name: "x", Mode: 0644}
	if err := formatMLxLine(buf, d, opts, "", false); err != nil {
		t.Fatal(err)
	}
	if got := string(buf.usedArea()); strings.HasPrefix(got, " ") {
		t.Errorf("expected no leading space for MLSD, got %q", got)
	}
}

func TestOwnerGroupNamesAreNumeric(t *testing.T) {
	if got := ownerName(1000); got != "1000" {
		t.Errorf("ownerName(1000) = %q", got)
	}
	if got := groupName(0); got != "0" {
		t.Errorf("groupName(0) = %q", got)
	}
}
