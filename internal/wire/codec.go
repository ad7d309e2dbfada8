// Package wire implements the control-wire codec (spec §4.1, §6):
// fixed {magic, body_size} header followed by a body that begins with a
// 4-byte MsgType discriminator and continues with either a fixed struct
// or a UTF-8 JSON payload.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
)

// Magic is the constant sentinel that opens every control frame.
const Magic uint32 = 0xA4B3C2D1

const headerSize = 4 + 8 // magic u32, body_size u64

// Header is the fixed, big-endian control-message header.
type Header struct {
	Magic    uint32
	BodySize uint64
}

// Frame is a decoded control message: a MsgType discriminator plus the
// remaining body bytes (a fixed struct encoding or a JSON document,
// depending on MsgType).
type Frame struct {
	Type MsgType
	Body []byte
}

// WriteFrame frames and writes one control message.
func WriteFrame(w io.Writer, f Frame) error {
	body := make([]byte, 4+len(f.Body))
	binary.BigEndian.PutUint32(body[:4], uint32(f.Type))
	copy(body[4:], f.Body)

	hdr := make([]byte, headerSize)
	binary.BigEndian.PutUint32(hdr[0:4], Magic)
	binary.BigEndian.PutUint64(hdr[4:12], uint64(len(body)))

	if _, err := w.Write(hdr); err != nil {
		return errors.Wrap(err, "wire: write header")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "wire: write body")
	}
	return nil
}

// ErrPeerDisconnect is returned by ReadFrame when the connection reaches
// EOF, whether at a frame boundary or in the middle of a frame — the
// receiver side treats this as a peer disconnect and synthesizes a
// DestroyChannelReq (spec §4.1).
var ErrPeerDisconnect = errors.New("wire: peer disconnected")

// ReadFrame reads one framed control message, enforcing the magic
// sentinel and the [sizeof(MsgType), maxBodySize] bound on body_size
// (spec §4.1: any mismatch fails the connection with PARAM_INVALID).
func ReadFrame(r io.Reader, maxBodySize int64) (Frame, error) {
	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrPeerDisconnect
		}
		return Frame{}, errors.Wrap(err, "wire: read header")
	}

	magic := binary.BigEndian.Uint32(hdrBuf[0:4])
	bodySize := binary.BigEndian.Uint64(hdrBuf[4:12])
	if magic != Magic {
		return Frame{}, errors.Wrapf(hixlstatus.ParamInvalid, "wire: bad magic 0x%08x", magic)
	}
	if bodySize < 4 {
		return Frame{}, errors.Wrapf(hixlstatus.ParamInvalid, "wire: body_size %d below minimum 4", bodySize)
	}
	if int64(bodySize) > maxBodySize {
		return Frame{}, errors.Wrapf(hixlstatus.ParamInvalid, "wire: body_size %d exceeds max %d", bodySize, maxBodySize)
	}

	body := make([]byte, bodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrPeerDisconnect
		}
		return Frame{}, errors.Wrap(err, "wire: read body")
	}

	return Frame{
		Type: MsgType(binary.BigEndian.Uint32(body[:4])),
		Body: body[4:],
	}, nil
}
