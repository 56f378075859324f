//go:build unit

package transport

import (
	"context"
	"testing"
)

func TestLoopbackTransportRecordsSends(t *testing.T) {
	l := NewLoopbackTransport()
	id, err := l.SendAPS(context.Background(), SendRequest{DstAddr: 0x1234, Asdu: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1 {
		t.Errorf("requestID = %d, expected 1", id)
	}
	sent := l.Sent()
	if len(sent) != 1 || sent[0].DstAddr != 0x1234 {
		t.Fatalf("unexpected recorded sends: %+v", sent)
	}
}

func TestLoopbackTransportRequestIDsIncrement(t *testing.T) {
	l := NewLoopbackTransport()
	first, _ := l.SendAPS(context.Background(), SendRequest{})
	second, _ := l.SendAPS(context.Background(), SendRequest{})
	if second != first+1 {
		t.Errorf("second requestID = %d, expected %d", second, first+1)
	}
}

func TestFailNextSendRejectsOnlyOneCall(t *testing.T) {
	l := NewLoopbackTransport()
	l.FailNextSend()

	if _, err := l.SendAPS(context.Background(), SendRequest{}); err == nil {
		t.Fatal("expected the first send after FailNextSend to error")
	}
	if len(l.Sent()) != 0 {
		t.Errorf("rejected send must not be recorded")
	}

	if _, err := l.SendAPS(context.Background(), SendRequest{}); err != nil {
		t.Fatalf("expected the next send to succeed, got %v", err)
	}
	if len(l.Sent()) != 1 {
		t.Errorf("expected 1 recorded send after recovery")
	}
}
