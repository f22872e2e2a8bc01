// Package wire provides the newline-delimited JSON framing used by both
// the worker RPC link and the control endpoint: one JSON object per line,
// written atomically and read by a single dedicated reader goroutine.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// Conn wraps a net.Conn with mutex-protected NDJSON message read/write.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
}

// New wraps conn for NDJSON framing.
func New(conn net.Conn) *Conn {
	return &Conn{conn: conn, r: bufio.NewReader(conn)}
}

// WriteMessage marshals v as JSON and writes it as one line. Safe for
// concurrent use; the worker RPC link and the control endpoint both write
// from multiple goroutines (tx relay vs. rx relay).
func (c *Conn) WriteMessage(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	b = append(b, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(b)
	return err
}

// ReadMessage reads one line and unmarshals it into v. It is not safe for
// concurrent use; callers run a single reader goroutine per Conn.
func (c *Conn) ReadMessage(v interface{}) error {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return err
	}
	return json.Unmarshal(line, v)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr exposes the underlying connection's remote address for logging.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
