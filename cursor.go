package msodump

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Cursor is a bounds checked little endian reader over a buffer owned
// by the caller. Failed reads leave the position unchanged.
type Cursor struct {
	data []byte
	pos  int
}

func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

func (self *Cursor) Pos() int {
	return self.pos
}

func (self *Cursor) Len() int {
	return len(self.data)
}

// Remaining returns the unread part of the buffer.
func (self *Cursor) Remaining() []byte {
	return self.data[self.pos:]
}

func (self *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(self.data) {
		return &OutOfBoundsError{
			Offset:    pos,
			Requested: 0,
			Available: len(self.data),
		}
	}
	self.pos = pos
	return nil
}

func (self *Cursor) Skip(n int) error {
	if err := self.check(self.pos, n); err != nil {
		return err
	}
	self.pos += n
	return nil
}

func (self *Cursor) check(pos, n int) error {
	if n < 0 || pos < 0 || pos > len(self.data) || len(self.data)-pos < n {
		available := len(self.data) - pos
		if available < 0 {
			available = 0
		}
		return &OutOfBoundsError{
			Offset:    pos,
			Requested: n,
			Available: available,
		}
	}
	return nil
}

func (self *Cursor) ReadU8() (uint8, error) {
	if err := self.check(self.pos, 1); err != nil {
		return 0, err
	}
	result := self.data[self.pos]
	self.pos++
	return result, nil
}

func (self *Cursor) ReadU16() (uint16, error) {
	result, err := self.PeekU16()
	if err != nil {
		return 0, err
	}
	self.pos += 2
	return result, nil
}

func (self *Cursor) PeekU16() (uint16, error) {
	if err := self.check(self.pos, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(self.data[self.pos:]), nil
}

func (self *Cursor) ReadU32() (uint32, error) {
	result, err := self.PeekU32At(self.pos)
	if err != nil {
		return 0, err
	}
	self.pos += 4
	return result, nil
}

// PeekU32At reads a little endian uint32 at an absolute position
// without moving the cursor.
func (self *Cursor) PeekU32At(pos int) (uint32, error) {
	if err := self.check(pos, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(self.data[pos:]), nil
}

func (self *Cursor) ReadU64() (uint64, error) {
	if err := self.check(self.pos, 8); err != nil {
		return 0, err
	}
	result := binary.LittleEndian.Uint64(self.data[self.pos:])
	self.pos += 8
	return result, nil
}

// ReadSigned reads a sign extended integer of width 1, 2, 4 or 8 bytes.
func (self *Cursor) ReadSigned(width int) (int64, error) {
	switch width {
	case 1:
		v, err := self.ReadU8()
		return int64(int8(v)), err
	case 2:
		v, err := self.ReadU16()
		return int64(int16(v)), err
	case 4:
		v, err := self.ReadU32()
		return int64(int32(v)), err
	case 8:
		v, err := self.ReadU64()
		return int64(v), err
	}
	return 0, errors.Errorf("unsupported integer width %d", width)
}

// ReadSecID reads a signed 32 bit sector id.
func (self *Cursor) ReadSecID() (SecID, error) {
	v, err := self.ReadU32()
	return SecID(int32(v)), err
}

// ReadBytes returns the next n bytes as a sub slice of the buffer.
func (self *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := self.check(self.pos, n); err != nil {
		return nil, err
	}
	result := self.data[self.pos : self.pos+n]
	self.pos += n
	return result, nil
}
