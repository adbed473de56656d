package rtmp

import (
	"net"
	"testing"
)

// TestPublishGateDeniesAndWritesStatus exercises the coordinator publish
// gate wired through SetPublishGate: a denied publish must not reach
// negotiation.advanceServer (no NetStream.Publish.Start / registry
// registration) and must write back an onStatus error instead, mirroring
// rtmp_session.go's HandlePublish coordinator-deny branch.
func TestPublishGateDeniesAndWritesStatus(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	s := NewSession("test", serverConn, RoleServer)
	s.neg.app = "live"
	s.SetPublishGate(func(channel, key, remoteIP string) (bool, string) {
		if channel != "live" || key != "secret" {
			t.Fatalf("unexpected gate args: channel=%q key=%q", channel, key)
		}
		return false, ""
	})

	payload := buildPublishCommand(3, "secret", "live")
	msg := &Message{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: payload}

	done := make(chan error, 1)
	go func() { done <- s.dispatchCommand(msg) }()

	reader := NewChunkReader(clientConn)
	resp, err := reader.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("dispatchCommand error: %v", err)
	}

	cmd, err := decodeCommand(resp.Payload)
	if err != nil {
		t.Fatalf("failed to decode response command: %v", err)
	}
	if cmd.Name != "onStatus" {
		t.Fatalf("expected onStatus, got %q", cmd.Name)
	}
	if s.neg.phase == PhasePublishOrPlay {
		t.Fatalf("denied publish must not advance negotiation to PhasePublishOrPlay")
	}
}

// TestPublishGateAccepts checks an accepted publish both advances the
// negotiation phase and records the gate's returned stream id.
func TestPublishGateAccepts(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	s := NewSession("test", serverConn, RoleServer)
	s.neg.app = "live"
	s.SetPublishGate(func(channel, key, remoteIP string) (bool, string) {
		return true, "stream-123"
	})

	payload := buildPublishCommand(3, "secret", "live")
	msg := &Message{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: payload}

	done := make(chan error, 1)
	go func() { done <- s.dispatchCommand(msg) }()

	reader := NewChunkReader(clientConn)
	if _, err := reader.ReadMessage(); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("dispatchCommand error: %v", err)
	}

	if s.neg.phase != PhasePublishOrPlay {
		t.Fatalf("expected PhasePublishOrPlay, got %v", s.neg.phase)
	}
	if s.CoordinatorStreamID() != "stream-123" {
		t.Fatalf("expected coordinator stream id to be recorded, got %q", s.CoordinatorStreamID())
	}
}
