// Package wire implements the serialization adapters (C7): a length-prefixed
// binary codec for TreeDiff and DbDiff, snappy-compressed framing for
// transport, and sled-style record-parsing helpers for callers that store
// raw key/value pairs.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeCount writes n as a varint-encoded record count.
func writeCount(w io.Writer, n int) error {
	var buf [binary.MaxVarintLen64]byte
	k := binary.PutUvarint(buf[:], uint64(n))
	_, err := w.Write(buf[:k])
	return err
}

// readCount reads a varint-encoded record count.
func readCount(r io.ByteReader) (int, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// writeBytes writes a varint length prefix followed by b.
func writeBytes(w io.Writer, b []byte) error {
	if err := writeCount(w, len(b)); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readBytes reads a length-prefixed byte sequence.
func readBytes(r byteReader) ([]byte, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

const (
	tagAbsent byte = 0
	tagSome   byte = 1
)

// writeOptionalBytes writes a single tag byte (0 absent, 1 present)
// followed by the length-prefixed payload if present.
func writeOptionalBytes(w io.Writer, b []byte) error {
	if b == nil {
		_, err := w.Write([]byte{tagAbsent})
		return err
	}
	if _, err := w.Write([]byte{tagSome}); err != nil {
		return err
	}
	return writeBytes(w, b)
}

// readOptionalBytes reads the tag-prefixed optional byte sequence written by
// writeOptionalBytes. A present but empty payload is returned as a non-nil
// empty slice, so it is not read back as absent.
func readOptionalBytes(r byteReader) ([]byte, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagAbsent:
		return nil, nil
	case tagSome:
		b, err := readBytes(r)
		if err == nil && b == nil {
			b = []byte{}
		}
		return b, err
	default:
		return nil, fmt.Errorf("wire: invalid option tag %d", tag)
	}
}

// writeBool writes a single byte: 1 for true, 0 for false.
func writeBool(w io.Writer, v bool) error {
	if v {
		_, err := w.Write([]byte{1})
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// readBool reads a single boolean byte.
func readBool(r byteReader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// byteReader is the minimal interface the decode helpers need: both
// io.ByteReader (for varints) and io.Reader (for io.ReadFull).
type byteReader interface {
	io.Reader
	io.ByteReader
}
