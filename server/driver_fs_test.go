package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFSDriverAnonymousReadOnlyByDefault(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	driver, err := NewFSDriver(root)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := driver.Authenticate("someone", "", ""); err == nil {
		t.Error("expected non-anonymous login to be rejected with no Authenticator configured")
	}

	ctx, err := driver.Authenticate("anonymous", "", "")
	if err != nil {
		t.Fatalf("expected anonymous login to succeed, got %v", err)
	}
	defer ctx.Close()

	if _, err := ctx.OpenFile("/hello.txt", os.O_WRONLY); err == nil {
		t.Error("expected write to be rejected for anonymous read-only access")
	}
	f, err := ctx.OpenFile("/hello.txt", os.O_RDONLY)
	if err != nil {
		t.Fatalf("expected read to succeed: %v", err)
	}
	f.Close()
}

func TestFSDriverDisableAnonymous(t *testing.T) {
	root := t.TempDir()
	driver, err := NewFSDriver(root, WithDisableAnonymous(true))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := driver.Authenticate("anonymous", "", ""); err == nil {
		t.Error("expected anonymous login to be rejected when disabled")
	}
}

func TestFSDriverCustomAuthenticator(t *testing.T) {
	root := t.TempDir()
	called := false
	driver, err := NewFSDriver(root, WithAuthenticator(func(user, pass, host string) (string, bool, error) {
		called = true
		if user == "alice" && pass == "wonderland" {
			return root, false, nil
		}
		return "", false, os.ErrPermission
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := driver.Authenticate("alice", "wrong", ""); err == nil {
		t.Error("expected wrong password to be rejected")
	}
	if !called {
		t.Error("expected custom authenticator to be invoked")
	}
	ctx, err := driver.Authenticate("alice", "wonderland", "")
	if err != nil {
		t.Fatalf("expected correct credentials to succeed: %v", err)
	}
	ctx.Close()
}

func TestFSDriverJailsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	driver, err := NewFSDriver(filepath.Join(root, "sub"), WithDisableAnonymous(false))
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := driver.Authenticate("anonymous", "", "")
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	// os.Root rejects lexical escapes out of its own root; this exercises
	// that a resolved path can never walk above the jailed directory.
	if _, err := ctx.Stat("/../outside.txt"); err == nil {
		t.Error("expected stat above the jail root to fail")
	}
}

func TestFSDriverMakeRemoveDir(t *testing.T) {
	root := t.TempDir()
	driver, err := NewFSDriver(root, WithAnonWrite(true))
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := driver.Authenticate("ftp", "", "")
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	if err := ctx.MakeDir("/newdir"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	isDir, err := ctx.IsDir("/newdir")
	if err != nil || !isDir {
		t.Fatalf("expected /newdir to exist as a directory, isDir=%v err=%v", isDir, err)
	}
	if err := ctx.RemoveDir("/newdir"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if isDir, _ := ctx.IsDir("/newdir"); isDir {
		t.Error("expected /newdir removed")
	}
}
