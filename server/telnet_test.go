package server

import "testing"

func TestScanPastDataMarkConsumesUpToAndIncludingMark(t *testing.T) {
	sess := &session{commandBuf: newIOBuffer(32), telnetScanning: true, urgent: true}
	sess.commandBuf.markUsed(copy(sess.commandBuf.freeArea(), []byte{'j', 'u', 'n', 'k', telnetDataMark, 'A', 'B', 'O', 'R', '\r', '\n'}))

	sess.scanPastDataMark()

	if sess.telnetScanning {
		t.Fatal("expected telnetScanning cleared once the data mark is found")
	}
	if sess.urgent {
		t.Fatal("expected urgent cleared once the data mark is found")
	}
	if got := string(sess.commandBuf.usedArea()); got != "ABOR\r\n" {
		t.Errorf("remaining buffer = %q, want %q", got, "ABOR\r\n")
	}
}

func TestScanPastDataMarkWithoutMarkDiscardsAll(t *testing.T) {
	sess := &session{commandBuf: newIOBuffer(32), telnetScanning: true}
	sess.commandBuf.markUsed(copy(sess.commandBuf.freeArea(), []byte("no mark here")))

	sess.scanPastDataMark()

	if !sess.telnetScanning {
		t.Fatal("expected telnetScanning to remain set without a data mark")
	}
	if sess.commandBuf.usedSize() != 0 {
		t.Errorf("expected all bytes discarded while scanning, got %d left", sess.commandBuf.usedSize())
	}
}
