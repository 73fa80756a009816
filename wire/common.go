// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxVarIntPayload is the maximum payload size for a variable length integer.
const MaxVarIntPayload = 9

// littleEndian is a convenience variable since binary.LittleEndian is quite
// long.
var littleEndian = binary.LittleEndian

// errNonCanonicalVarInt is the common format string used for non-canonically
// encoded variable length integer errors.
var errNonCanonicalVarInt = "non-canonical varint %x - discriminant %x must " +
	"encode a value greater than %x"

// readElement reads the next sequence of bytes from r using little endian
// depending on the concrete type of element pointed to.
func readElement(r io.Reader, element interface{}) error {
	var scratch [8]byte

	switch e := element.(type) {
	case *int32:
		b := scratch[0:4]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = int32(littleEndian.Uint32(b))
		return nil

	case *uint32:
		b := scratch[0:4]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = littleEndian.Uint32(b)
		return nil

	case *uint64:
		b := scratch[0:8]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = littleEndian.Uint64(b)
		return nil
	}

	return errors.Errorf("unsupported element type %T", element)
}

// readElements reads multiple items from r. It is equivalent to multiple
// calls to readElement.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		err := readElement(r, element)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeElement writes the little endian representation of element to w.
func writeElement(w io.Writer, element interface{}) error {
	var scratch [8]byte

	switch e := element.(type) {
	case int32:
		b := scratch[0:4]
		littleEndian.PutUint32(b, uint32(e))
		_, err := w.Write(b)
		return err

	case uint32:
		b := scratch[0:4]
		littleEndian.PutUint32(b, e)
		_, err := w.Write(b)
		return err

	case uint64:
		b := scratch[0:8]
		littleEndian.PutUint64(b, e)
		_, err := w.Write(b)
		return err
	}

	return errors.Errorf("unsupported element type %T", element)
}

// writeElements writes multiple items to w. It is equivalent to multiple
// calls to writeElement.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		err := writeElement(w, element)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64.
func ReadVarInt(r io.Reader) (uint64, error) {
	var scratch [8]byte
	if _, err := io.ReadFull(r, scratch[0:1]); err != nil {
		return 0, err
	}
	discriminant := scratch[0]

	var rv uint64
	switch discriminant {
	case 0xff:
		if _, err := io.ReadFull(r, scratch[0:8]); err != nil {
			return 0, err
		}
		rv = littleEndian.Uint64(scratch[0:8])

		// The encoding is not canonical if the value could have been
		// encoded using fewer bytes.
		min := uint64(0x100000000)
		if rv < min {
			return 0, errors.Errorf(errNonCanonicalVarInt, rv,
				discriminant, min)
		}

	case 0xfe:
		if _, err := io.ReadFull(r, scratch[0:4]); err != nil {
			return 0, err
		}
		rv = uint64(littleEndian.Uint32(scratch[0:4]))

		min := uint64(0x10000)
		if rv < min {
			return 0, errors.Errorf(errNonCanonicalVarInt, rv,
				discriminant, min)
		}

	case 0xfd:
		if _, err := io.ReadFull(r, scratch[0:2]); err != nil {
			return 0, err
		}
		rv = uint64(littleEndian.Uint16(scratch[0:2]))

		min := uint64(0xfd)
		if rv < min {
			return 0, errors.Errorf(errNonCanonicalVarInt, rv,
				discriminant, min)
		}

	default:
		rv = uint64(discriminant)
	}

	return rv, nil
}

// WriteVarInt serializes val to w using a variable number of bytes depending
// on its value.
func WriteVarInt(w io.Writer, val uint64) error {
	var scratch [8]byte

	if val < 0xfd {
		scratch[0] = uint8(val)
		_, err := w.Write(scratch[0:1])
		return err
	}

	if val <= 0xffff {
		scratch[0] = 0xfd
		littleEndian.PutUint16(scratch[1:3], uint16(val))
		_, err := w.Write(scratch[0:3])
		return err
	}

	if val <= 0xffffffff {
		scratch[0] = 0xfe
		littleEndian.PutUint32(scratch[1:5], uint32(val))
		_, err := w.Write(scratch[0:5])
		return err
	}

	var buf [MaxVarIntPayload]byte
	buf[0] = 0xff
	littleEndian.PutUint64(buf[1:9], val)
	_, err := w.Write(buf[0:9])
	return err
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	// The value is small enough to be represented by itself.
	if val < 0xfd {
		return 1
	}

	// Discriminant 1 byte plus 2 bytes for the uint16.
	if val <= 0xffff {
		return 3
	}

	// Discriminant 1 byte plus 4 bytes for the uint32.
	if val <= 0xffffffff {
		return 5
	}

	// Discriminant 1 byte plus 8 bytes for the uint64.
	return 9
}

// ReadVarBytes reads a variable length byte array with a length capped by
// maxAllowed.
func ReadVarBytes(r io.Reader, maxAllowed uint32, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	// Prevent a byte array larger than the max allowed size. It would be
	// possible to cause memory exhaustion and panics without a sane upper
	// bound on this count.
	if count > uint64(maxAllowed) {
		return nil, errors.Errorf("%s is larger than the max allowed size "+
			"[count %d, max %d]", fieldName, count, maxAllowed)
	}

	b := make([]byte, count)
	_, err = io.ReadFull(r, b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// WriteVarBytes serializes a variable length byte array to w as a varInt
// containing the number of bytes, followed by the bytes themselves.
func WriteVarBytes(w io.Writer, bytes []byte) error {
	slen := uint64(len(bytes))
	err := WriteVarInt(w, slen)
	if err != nil {
		return err
	}

	_, err = w.Write(bytes)
	return err
}
