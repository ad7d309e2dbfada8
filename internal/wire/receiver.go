package wire

import (
	"bufio"
	"context"
	"net"
)

// Receiver incrementally collects framed control messages off one
// connection (spec §4.4: "each client FD is wrapped in a stateful
// receiver"). Go's goroutine-per-connection model replaces the
// teacher's epoll + manual partial-read state machine, but the receiver
// still owns exactly one FD and still treats mid-frame EOF as a peer
// disconnect.
type Receiver struct {
	conn        net.Conn
	br          *bufio.Reader
	maxBodySize int64
}

func NewReceiver(conn net.Conn, maxBodySize int64) *Receiver {
	return &Receiver{conn: conn, br: bufio.NewReader(conn), maxBodySize: maxBodySize}
}

// Next blocks until one frame is available, the connection errors, or
// ctx is cancelled. A clean or mid-frame EOF is reported as
// ErrPeerDisconnect so the caller can synthesize a DestroyChannelReq.
func (r *Receiver) Next(ctx context.Context) (Frame, error) {
	type result struct {
		f   Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := ReadFrame(r.br, r.maxBodySize)
		ch <- result{f, err}
	}()
	select {
	case <-ctx.Done():
		r.conn.Close()
		return Frame{}, ctx.Err()
	case res := <-ch:
		return res.f, res.err
	}
}

func (r *Receiver) Close() error { return r.conn.Close() }
