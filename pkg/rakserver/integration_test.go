package rakserver_test

import (
	"testing"
	"time"

	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/pkg/rakclient"
	"github.com/shadowmesh/raknet/pkg/rakserver"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.NewLogger("integration-test", logging.WARN, "")
	if err != nil {
		t.Fatalf("logging.NewLogger() error = %v", err)
	}
	return log
}

func startServer(t *testing.T, guid uint64, motd string) *rakserver.Server {
	t.Helper()
	srv, err := rakserver.Listen("127.0.0.1:0", guid, motd, testLogger(t), rakserver.Options{})
	if err != nil {
		t.Fatalf("rakserver.Listen() error = %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func waitForEvent(t *testing.T, ch <-chan rakclient.Event, want rakclient.EventType, timeout time.Duration) rakclient.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for client event %d", want)
		}
	}
}

func waitForServerEvent(t *testing.T, ch <-chan rakserver.ServerEvent, want rakserver.EventType, timeout time.Duration) rakserver.ServerEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for server event %d", want)
		}
	}
}

// TestBasicSendReceiveAndDisconnect drives the client through a real
// handshake against a real server socket on loopback, sends a payload
// large enough to force fragmentation to the server, gets a short reply
// back, then disconnects and checks the server observes it.
func TestBasicSendReceiveAndDisconnect(t *testing.T) {
	srv := startServer(t, 0xdeadbeef, "integration test server")

	client, err := rakclient.New(0x1, "127.0.0.1:0", testLogger(t))
	if err != nil {
		t.Fatalf("rakclient.New() error = %v", err)
	}
	defer client.Close()

	if err := client.Connect(srv.LocalAddr().String()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForEvent(t, client.Events(), rakclient.EventConnected, 2*time.Second)

	connEv := waitForServerEvent(t, srv.Events(), rakserver.EventConnected, 2*time.Second)
	peer := connEv.Peer

	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	// Lead with an application packet ID: a leading 0x00 would be taken
	// for a ConnectedPing and answered by the session instead of delivered.
	payload[0] = 0xfe
	client.Packet(payload)

	pktEv := waitForServerEvent(t, srv.Events(), rakserver.EventPacket, 2*time.Second)
	if len(pktEv.Data) != len(payload) {
		t.Fatalf("server received %d bytes, want %d", len(pktEv.Data), len(payload))
	}
	for i := range payload {
		if pktEv.Data[i] != payload[i] {
			t.Fatalf("server payload[%d] = %d, want %d", i, pktEv.Data[i], payload[i])
		}
	}

	peer.Send([]byte("Hello"))
	reply := waitForEvent(t, client.Events(), rakclient.EventPacket, 2*time.Second)
	if string(reply.Data) != "Hello" {
		t.Fatalf("client received %q, want %q", reply.Data, "Hello")
	}

	client.Disconnect()
	waitForServerEvent(t, srv.Events(), rakserver.EventDisconnected, 2*time.Second)
}

// TestDuplicateGUIDRejected mirrors spec.md scenario 2: two clients
// sharing a GUID, where the second is turned away with AlreadyConnected
// once the first has completed its handshake.
func TestDuplicateGUIDRejected(t *testing.T) {
	srv := startServer(t, 0xc0ffee, "integration test server")
	const sharedGUID = 114514

	first, err := rakclient.New(sharedGUID, "127.0.0.1:0", testLogger(t))
	if err != nil {
		t.Fatalf("rakclient.New() error = %v", err)
	}
	defer first.Close()
	if err := first.Connect(srv.LocalAddr().String()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForEvent(t, first.Events(), rakclient.EventConnected, 2*time.Second)
	waitForServerEvent(t, srv.Events(), rakserver.EventConnected, 2*time.Second)

	second, err := rakclient.New(sharedGUID, "127.0.0.1:0", testLogger(t))
	if err != nil {
		t.Fatalf("rakclient.New() error = %v", err)
	}
	defer second.Close()
	if err := second.Connect(srv.LocalAddr().String()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ev := waitForEvent(t, second.Events(), rakclient.EventConnectionFailed, 2*time.Second)
	if ev.Reason != rakclient.FailAlreadyConnected {
		t.Fatalf("second client failed with reason %v, want FailAlreadyConnected", ev.Reason)
	}
}
