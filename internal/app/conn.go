package app

import (
	"sync"

	"noded/internal/wire"
	"noded/pkg/types"
)

// connUpstream adapts a client connection's chunk/choke/error frames into
// the types.Upstream the slave's channel relay consumes.
type connUpstream struct {
	conn   *wire.Conn
	frames chan types.Frame
}

func newConnUpstream(conn *wire.Conn) *connUpstream {
	return &connUpstream{conn: conn, frames: make(chan types.Frame)}
}

func (u *connUpstream) Recv() (types.Frame, bool) {
	f, ok := <-u.frames
	return f, ok
}

// runReader pumps frames from the connection until it closes or a terminal
// frame arrives. It owns closing u.frames, which signals tx close to Recv.
func (u *connUpstream) runReader() {
	defer close(u.frames)
	for {
		var msg types.ClientMessage
		if err := u.conn.ReadMessage(&msg); err != nil {
			return
		}
		switch msg.Kind {
		case types.ClientChunk:
			u.frames <- types.Frame{Kind: types.FrameChunk, Payload: msg.Payload}
		case types.ClientChoke:
			u.frames <- types.Frame{Kind: types.FrameChoke}
			return
		case types.ClientError:
			u.frames <- types.Frame{Kind: types.FrameError, Code: msg.Code, Message: msg.Message}
			return
		default:
			return
		}
	}
}

// connDownstream adapts the worker's reply frames back onto the same
// connection. Close closes the underlying connection, which also unblocks
// the paired connUpstream's reader.
type connDownstream struct {
	conn      *wire.Conn
	closeOnce sync.Once
}

func newConnDownstream(conn *wire.Conn) *connDownstream {
	return &connDownstream{conn: conn}
}

func (d *connDownstream) Send(f types.Frame) error {
	switch f.Kind {
	case types.FrameChunk:
		return d.conn.WriteMessage(types.ClientMessage{Kind: types.ClientChunk, Payload: f.Payload})
	case types.FrameChoke:
		return d.conn.WriteMessage(types.ClientMessage{Kind: types.ClientChoke})
	case types.FrameError:
		return d.conn.WriteMessage(types.ClientMessage{Kind: types.ClientError, Code: f.Code, Message: f.Message})
	}
	return nil
}

func (d *connDownstream) Close() error {
	var err error
	d.closeOnce.Do(func() { err = d.conn.Close() })
	return err
}
