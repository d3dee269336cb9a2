package server

import "testing"

func TestResolvePath(t *testing.T) {
	cases := []struct {
		cwd, arg, want string
	}{
		{"/", "foo", "/foo"},
		{"/a/b", "foo", "/a/b/foo"},
		{"/a/b", "/foo", "/foo"},
		{"/a/b", "..", "/a"},
		{"/", "..", "/"},
		{"/a/b", "../..", "/"},
		{"/a/b", "../../../../..", "/"},
		{"/a", "./././b", "/a/b"},
		{"/a", "b//c///d", "/a/b/c/d"},
		{"/a/b", "", "/a/b"},
		{"/", "", "/"},
		{"/a/b/c", "../../x", "/a/x"},
	}
	for _, c := range cases {
		if got := resolvePath(c.cwd, c.arg); got != c.want {
			t.Errorf("resolvePath(%q, %q) = %q, want %q", c.cwd, c.arg, got, c.want)
		}
	}
}

func TestParentDir(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/", "/"},
		{"/a", "/"},
		{"/a/b", "/a"},
		{"/a/b/c", "/a/b"},
	}
	for _, c := range cases {
		if got := parentDir(c.in); got != c.want {
			t.Errorf("parentDir(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveRequiresParentDirectory(t *testing.T) {
	statDir := func(path string) (bool, error) {
		return path == "/a", nil
	}
	if _, err := resolve(statDir, "/a", "file.txt"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	statMissing := func(path string) (bool, error) {
		return false, errNotDirectory
	}
	if _, err := resolve(statMissing, "/a", "x/file.txt"); err == nil {
		t.Fatal("expected error when parent stat fails")
	}
}

func TestResolveRejectsNonDirectoryParent(t *testing.T) {
	statFile := func(path string) (bool, error) {
		return false, nil
	}
	_, err := resolve(statFile, "/a", "file.txt/sub")
	if err != errNotDirectory {
		t.Fatalf("expected errNotDirectory, got %v", err)
	}
}
