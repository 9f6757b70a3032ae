package logging

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestWithPeerIsolatesFieldsFromParent(t *testing.T) {
	base, err := NewLogger("test", DEBUG, "")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	base.WithField("service", "raknet")

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19132}
	child := base.WithPeer(addr, 0xfeedface)
	child.WithField("extra", "only-on-child")

	if _, ok := base.fields["extra"]; ok {
		t.Fatalf("WithPeer leaked a child field back onto the parent logger")
	}
	if _, ok := base.fields["guid"]; ok {
		t.Fatalf("WithPeer leaked guid onto the parent logger")
	}
	if child.fields["service"] != "raknet" {
		t.Fatalf("child.fields[service] = %v, want the parent's field to carry over", child.fields["service"])
	}
}

func TestLogPromotesGUIDToTopLevelEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	base, err := NewLogger("test", DEBUG, path)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer base.Close()

	peer := base.WithPeer(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19132}, 0x1234)
	peer.Info("peer connected")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var entry LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, data = %s", err, data)
	}
	if entry.GUID != "1234" {
		t.Fatalf("entry.GUID = %q, want %q", entry.GUID, "1234")
	}
	if _, ok := entry.Fields["guid"]; ok {
		t.Fatalf("guid should be promoted out of Fields, still found %v", entry.Fields["guid"])
	}
	if entry.Fields["remote_addr"] != "127.0.0.1:19132" {
		t.Fatalf("entry.Fields[remote_addr] = %v, want 127.0.0.1:19132", entry.Fields["remote_addr"])
	}
}
