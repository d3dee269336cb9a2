package server

import "testing"

func TestIOBufferWriteRead(t *testing.T) {
	b := newIOBuffer(16)
	if b.freeSize() != 16 || b.usedSize() != 0 {
		t.Fatalf("fresh buffer: free=%d used=%d", b.freeSize(), b.usedSize())
	}
	n := copy(b.freeArea(), "hello")
	if err := b.markUsed(n); err != nil {
		t.Fatal(err)
	}
	if got := string(b.usedArea()); got != "hello" {
		t.Fatalf("usedArea = %q", got)
	}
	if err := b.markFree(3); err != nil {
		t.Fatal(err)
	}
	if got := string(b.usedArea()); got != "lo" {
		t.Fatalf("usedArea after markFree = %q", got)
	}
}

func TestIOBufferMarkFreeDrainsToZero(t *testing.T) {
	b := newIOBuffer(8)
	b.markUsed(copy(b.freeArea(), "ab"))
	if err := b.markFree(2); err != nil {
		t.Fatal(err)
	}
	if b.start != 0 || b.end != 0 {
		t.Fatalf("expected start/end reset to 0, got start=%d end=%d", b.start, b.end)
	}
	if b.freeSize() != 8 {
		t.Fatalf("expected full free size after drain, got %d", b.freeSize())
	}
}

func TestIOBufferCoalesce(t *testing.T) {
	b := newIOBuffer(8)
	b.markUsed(copy(b.freeArea(), "abcd"))
	b.markFree(2) // start=2, end=4, used="cd"
	b.coalesce()
	if b.start != 0 || b.end != 2 {
		t.Fatalf("coalesce: start=%d end=%d, want 0,2", b.start, b.end)
	}
	if got := string(b.usedArea()); got != "cd" {
		t.Fatalf("usedArea after coalesce = %q", got)
	}
	if b.freeSize() != 6 {
		t.Fatalf("freeSize after coalesce = %d, want 6", b.freeSize())
	}
}

func TestIOBufferMarkUsedOverflow(t *testing.T) {
	b := newIOBuffer(4)
	if err := b.markUsed(5); err == nil {
		t.Fatal("expected error marking used beyond free size")
	}
}

func TestIOBufferMarkFreeOverflow(t *testing.T) {
	b := newIOBuffer(4)
	b.markUsed(2)
	if err := b.markFree(3); err == nil {
		t.Fatal("expected error marking free beyond used size")
	}
}

func TestIOBufferAppendLineFitsAndOverflows(t *testing.T) {
	b := newIOBuffer(8)
	if err := b.appendLine("1234567"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.usedSize() != 7 {
		t.Fatalf("usedSize = %d, want 7", b.usedSize())
	}
	if err := b.appendLine("xy"); err != errAgain {
		t.Fatalf("expected errAgain when the line exceeds free space, got %v", err)
	}
}

func TestIOBufferClear(t *testing.T) {
	b := newIOBuffer(8)
	b.markUsed(copy(b.freeArea(), "abcd"))
	b.clear()
	if b.usedSize() != 0 || b.freeSize() != 8 {
		t.Fatalf("clear did not reset buffer: used=%d free=%d", b.usedSize(), b.freeSize())
	}
}

func TestIOBufferNeverReallocates(t *testing.T) {
	b := newIOBuffer(8)
	orig := &b.buf[0]
	b.markUsed(copy(b.freeArea(), "abcd"))
	b.markFree(4)
	b.coalesce()
	b.appendLine("xy")
	if &b.buf[0] != orig {
		t.Fatal("ioBuffer reallocated its backing array")
	}
}
