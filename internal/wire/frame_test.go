package wire

import (
	"net"
	"testing"

	"noded/pkg/types"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := New(server)
	cc := New(client)

	msg := types.WorkerMessage{Kind: types.WorkerInvoke, ChannelID: 1, Event: "echo"}
	done := make(chan error, 1)
	go func() { done <- sc.WriteMessage(msg) }()

	var got types.WorkerMessage
	if err := cc.ReadMessage(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write: %v", err)
	}
	if got.Kind != msg.Kind || got.ChannelID != msg.ChannelID || got.Event != msg.Event {
		t.Fatalf("got %+v want %+v", got, msg)
	}
}

func TestWriteMessageConcurrentSafe(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := New(server)
	cc := New(client)

	const n = 20
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			errCh <- sc.WriteMessage(types.WorkerMessage{Kind: types.WorkerChunk, ChannelID: uint64(i)})
		}(i)
	}

	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		var got types.WorkerMessage
		if err := cc.ReadMessage(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		seen[got.ChannelID] = true
	}
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct channel ids, got %d", n, len(seen))
	}
}
