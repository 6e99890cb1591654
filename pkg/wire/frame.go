package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/iklop007/galaxytx/pkg/txerr"
)

const (
	// Magic is the fixed two-byte frame marker. A mismatch closes the
	// connection.
	Magic uint16 = 0xCAFE
	// Version is the protocol version this build emits and accepts.
	// Higher versions on an incoming frame are rejected.
	Version uint8 = 1
	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 12
	// MaxBodySize bounds a single frame's body to guard against a
	// corrupted length field forcing an unbounded allocation.
	MaxBodySize = 64 << 20
)

// WriteFrame serializes msg's header and body to w. The body must already
// be codec-encoded.
func WriteFrame(w io.Writer, msg *RpcMessage) error {
	if len(msg.Body) > MaxBodySize {
		return txerr.New(txerr.Protocol, "body exceeds maximum frame size")
	}
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(header[0:2], Magic)
	header[2] = Version
	header[3] = byte(msg.Type)
	binary.BigEndian.PutUint32(header[4:8], msg.ID)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(msg.Body)))

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return txerr.Wrap(txerr.Network, "write frame header", err)
	}
	if len(msg.Body) > 0 {
		if _, err := bw.Write(msg.Body); err != nil {
			return txerr.Wrap(txerr.Network, "write frame body", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return txerr.Wrap(txerr.Network, "flush frame", err)
	}
	return nil
}

// ReadFrame reads and validates one frame from r. A magic or version
// mismatch is a WireError; callers must close the connection in that case.
func ReadFrame(r io.Reader) (*RpcMessage, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, txerr.Wrap(txerr.Network, "read frame header", err)
	}

	magic := binary.BigEndian.Uint16(header[0:2])
	if magic != Magic {
		return nil, txerr.New(txerr.Wire, fmt.Sprintf("bad magic %#x", magic))
	}
	version := header[2]
	if version > Version {
		return nil, txerr.New(txerr.Wire, fmt.Sprintf("unsupported version %d", version))
	}
	msgType := MessageType(header[3])
	id := binary.BigEndian.Uint32(header[4:8])
	bodyLen := binary.BigEndian.Uint32(header[8:12])
	if bodyLen > MaxBodySize {
		return nil, txerr.New(txerr.Wire, "body length exceeds maximum frame size")
	}
	if !msgType.Known() {
		return nil, txerr.New(txerr.Protocol, fmt.Sprintf("unknown message type %d", msgType))
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, txerr.Wrap(txerr.Network, "read frame body", err)
		}
	}

	return &RpcMessage{ID: id, Type: msgType, Body: body}, nil
}
