package gpgnet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

// Chunk type tags on the wire.
const (
	chunkInt    byte = 0
	chunkString byte = 1
)

const (
	maxStringLength = 1 << 20
	maxChunkCount   = 1 << 10
)

var (
	ErrChunkType = errors.New("unsupported chunk type")
	ErrTooLarge  = errors.New("message exceeds size limit")
)

// WriteMessage encodes a message and writes it with a single call to w.
//
// Layout: header string, uint32 chunk count, then per chunk a type byte followed by an
// int32 or a string. Strings are a uint32 length followed by the raw bytes. All integers
// are little endian.
func WriteMessage(w io.Writer, msg structs.GPGNetMessage) error {
	var buf bytes.Buffer
	writeString(&buf, msg.Header)
	binary.Write(&buf, binary.LittleEndian, uint32(len(msg.Chunks)))

	for i, chunk := range msg.Chunks {
		switch v := chunk.(type) {
		case string:
			buf.WriteByte(chunkString)
			writeString(&buf, v)
		default:
			n, err := toInt32(chunk)
			if err != nil {
				return fmt.Errorf("chunk %d of %s: %w", i, msg.Header, err)
			}
			buf.WriteByte(chunkInt)
			binary.Write(&buf, binary.LittleEndian, n)
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

// toInt32 accepts the integer-like values a chunk can carry, including whole JSON numbers.
// Values that do not fit an int32 are rejected rather than truncated.
func toInt32(v any) (int32, error) {
	switch n := v.(type) {
	case int:
		return checkedInt32(int64(n))
	case int32:
		return n, nil
	case int64:
		return checkedInt32(n)
	case uint16:
		return int32(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrChunkType, n)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %v is out of int32 range", ErrChunkType, n)
		}
		return int32(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrChunkType, v)
}

func checkedInt32(n int64) (int32, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d is out of int32 range", ErrChunkType, n)
	}
	return int32(n), nil
}

// ReadMessage decodes one message. Integer chunks are returned as int32, string chunks as string.
func ReadMessage(r *bufio.Reader) (structs.GPGNetMessage, error) {
	var msg structs.GPGNetMessage

	header, err := readString(r)
	if err != nil {
		return msg, err
	}
	msg.Header = header

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return msg, err
	}
	if count > maxChunkCount {
		return msg, fmt.Errorf("%w: %d chunks", ErrTooLarge, count)
	}

	msg.Chunks = make([]any, 0, count)
	for i := uint32(0); i < count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return msg, err
		}
		switch tag {
		case chunkInt:
			var n int32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return msg, err
			}
			msg.Chunks = append(msg.Chunks, n)
		case chunkString:
			s, err := readString(r)
			if err != nil {
				return msg, err
			}
			msg.Chunks = append(msg.Chunks, s)
		default:
			return msg, fmt.Errorf("%w: tag %d", ErrChunkType, tag)
		}
	}
	return msg, nil
}

func readString(r *bufio.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	if length > maxStringLength {
		return "", fmt.Errorf("%w: string of %d bytes", ErrTooLarge, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
