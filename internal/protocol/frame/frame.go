package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"syscall"

	"github.com/danmuck/tcpserv/internal/protocol"
)

const (
	// LengthFieldLen is the width of the big-endian length prefix.
	LengthFieldLen = 4
	// MaxData is the exclusive upper bound on payload length, derived from the
	// width of the length field.
	MaxData uint64 = 1 << (8 * LengthFieldLen)
)

var (
	ErrPayloadTooLarge = fmt.Errorf("frame: payload too large: %w", protocol.ErrValidation)
	ErrTrailingBytes   = fmt.Errorf("frame: trailing bytes after payload: %w", protocol.ErrValidation)
	ErrNegativeLength  = fmt.Errorf("frame: negative read length: %w", protocol.ErrValidation)
)

// readChunk bounds the up-front allocation in ReadExact. Longer reads grow
// their buffer as bytes arrive, so a bare length prefix costs nothing.
const readChunk = 64 << 10

// maxReadLen is the largest length ReadFrame can hand to ReadExact.
var maxReadLen uint64 = math.MaxInt

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

// DefaultLimits accepts every length the prefix can express.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: MaxData - 1}
}

func (l Limits) withDefaults() Limits {
	if l.MaxPayloadBytes == 0 || l.MaxPayloadBytes >= MaxData {
		l.MaxPayloadBytes = MaxData - 1
	}
	return l
}

// ValidateLength reports whether a payload of n bytes fits in one frame.
func ValidateLength(n uint64) error {
	if n >= MaxData {
		return fmt.Errorf("%w: len=%d max=%d", ErrPayloadTooLarge, n, MaxData-1)
	}
	return nil
}

func EncodeLength(n uint32) [LengthFieldLen]byte {
	var b [LengthFieldLen]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b
}

func DecodeLength(b [LengthFieldLen]byte) uint32 {
	return binary.BigEndian.Uint32(b[:])
}

// Encode returns the wire form of payload: length prefix, then payload bytes.
func Encode(payload []byte) ([]byte, error) {
	if err := ValidateLength(uint64(len(payload))); err != nil {
		return nil, err
	}
	buf := make([]byte, LengthFieldLen+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthFieldLen], uint32(len(payload)))
	copy(buf[LengthFieldLen:], payload)
	return buf, nil
}

// Decode parses exactly one encoded frame held in memory.
func Decode(b []byte) ([]byte, error) {
	r := bytes.NewReader(b)
	payload, err := ReadFrame(r, DefaultLimits())
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, r.Len())
	}
	return payload, nil
}

// ReadExact blocks until exactly n bytes have been read from r, issuing as
// many partial reads as the stream requires. A stream that ends first yields
// protocol.ErrConnectionClosed.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}
	if n <= readChunk {
		buf := make([]byte, n)
		got, err := io.ReadFull(r, buf)
		if err != nil {
			return nil, readError(err, int64(got), n)
		}
		return buf, nil
	}

	var buf bytes.Buffer
	buf.Grow(readChunk)
	got, err := io.CopyN(&buf, r, int64(n))
	if err != nil {
		return nil, readError(err, got, n)
	}
	return buf.Bytes(), nil
}

func readError(err error, got int64, n int) error {
	if isClosed(err) {
		return fmt.Errorf("%w: read %d of %d bytes: %w", protocol.ErrConnectionClosed, got, n, err)
	}
	return err
}

// ReadLength reads and decodes one length prefix.
func ReadLength(r io.Reader) (uint32, error) {
	b, err := ReadExact(r, LengthFieldLen)
	if err != nil {
		return 0, err
	}
	return DecodeLength([LengthFieldLen]byte(b)), nil
}

// ReadFrame reads one length prefix and then exactly that many payload bytes.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()
	n, err := ReadLength(r)
	if err != nil {
		return nil, err
	}
	if uint64(n) > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: declared=%d limit=%d", ErrPayloadTooLarge, n, limits.MaxPayloadBytes)
	}
	if uint64(n) > maxReadLen {
		return nil, fmt.Errorf("%w: declared=%d exceeds platform int", ErrPayloadTooLarge, n)
	}
	return ReadExact(r, int(n))
}

// WriteFrame writes the length prefix and payload as one logical write. On a
// TCP connection this is a single vectored write; elsewhere each part is
// written in order and the first failure aborts the frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if err := ValidateLength(uint64(len(payload))); err != nil {
		return err
	}
	prefix := EncodeLength(uint32(len(payload)))
	bufs := net.Buffers{prefix[:]}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	if _, err := bufs.WriteTo(w); err != nil {
		return err
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET)
}
