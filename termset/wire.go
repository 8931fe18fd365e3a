package termset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/SentiOne/siren-join/internal/hash"
	"github.com/SentiOne/siren-join/resource"
)

// ErrCorrupted indicates encoded term set data is invalid.
var ErrCorrupted = errors.New("termset: corrupted encoded data")

var magic = [3]byte{'T', 'S', '1'}

const (
	headerSize  = len(magic) + 1
	trailerSize = 4
)

// Encode serializes the set in its wire form:
//
//	[magic "TS1"][encoding byte][payload][crc32c uint32 LE]
//
// Exact values are written in ascending order, so equal sets encode to
// equal bytes.
func (s *TermSet) Encode() ([]byte, error) {
	if s.released {
		return nil, ErrReleased
	}

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(byte(s.enc))

	var scratch [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:n])
	}

	switch s.enc {
	case Long:
		vals := s.Values()
		putUvarint(uint64(len(vals)))
		for _, v := range vals {
			binary.LittleEndian.PutUint64(scratch[:8], uint64(v))
			buf.Write(scratch[:8])
		}
	case Integer:
		vals := s.Values()
		putUvarint(uint64(len(vals)))
		for _, v := range vals {
			binary.LittleEndian.PutUint32(scratch[:4], uint32(int32(v)))
			buf.Write(scratch[:4])
		}
	case Bytes:
		terms := s.Terms()
		putUvarint(uint64(len(terms)))
		for _, t := range terms {
			putUvarint(uint64(len(t)))
			buf.Write(t)
		}
	case Bloom:
		putUvarint(uint64(s.bloomAdded))
		data, err := s.filter.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("termset: marshal bloom: %w", err)
		}
		buf.Write(data)
	}

	binary.LittleEndian.PutUint32(scratch[:4], hash.CRC32C(buf.Bytes()))
	buf.Write(scratch[:4])
	return buf.Bytes(), nil
}

// PeekEncoding returns the encoding of an encoded set without decoding it.
func PeekEncoding(data []byte) (Encoding, error) {
	if len(data) < headerSize+trailerSize || !bytes.Equal(data[:len(magic)], magic[:]) {
		return 0, ErrCorrupted
	}
	enc := Encoding(data[len(magic)])
	if !enc.Valid() {
		return 0, fmt.Errorf("%w: %w [%d]", ErrCorrupted, ErrUnknownEncoding, uint8(enc))
	}
	return enc, nil
}

// Decode rebuilds a set from its wire form, charging it to budget. The
// caller owns the result and must Release it.
func Decode(data []byte, budget *resource.Controller) (*TermSet, error) {
	enc, err := PeekEncoding(data)
	if err != nil {
		return nil, err
	}
	body := data[:len(data)-trailerSize]
	if got, want := hash.CRC32C(body), binary.LittleEndian.Uint32(data[len(body):]); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch (got %08x, want %08x)", ErrCorrupted, got, want)
	}

	r := bytes.NewReader(body[headerSize:])
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: count: %w", ErrCorrupted, err)
	}

	if enc == Bloom {
		return decodeBloom(r, int64(count), budget)
	}

	// Each entry takes at least one byte; reject counts the payload cannot hold.
	if count > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: count %d exceeds payload", ErrCorrupted, count)
	}

	s, err := New(enc, int64(count), budget)
	if err != nil {
		return nil, err
	}
	if err := s.decodeExact(r, count); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func (s *TermSet) decodeExact(r *bytes.Reader, count uint64) error {
	var scratch [8]byte
	for i := uint64(0); i < count; i++ {
		var err error
		switch s.enc {
		case Long:
			if _, err = io.ReadFull(r, scratch[:8]); err == nil {
				_, err = s.Insert(int64(binary.LittleEndian.Uint64(scratch[:8])))
			}
		case Integer:
			if _, err = io.ReadFull(r, scratch[:4]); err == nil {
				_, err = s.Insert(int64(int32(binary.LittleEndian.Uint32(scratch[:4]))))
			}
		case Bytes:
			err = s.decodeTerm(r)
		}
		if err != nil {
			if errors.Is(err, resource.ErrMemoryLimitExceeded) {
				return err
			}
			return fmt.Errorf("%w: entry %d: %w", ErrCorrupted, i, err)
		}
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupted, r.Len())
	}
	return nil
}

func (s *TermSet) decodeTerm(r *bytes.Reader) error {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	if n > uint64(r.Len()) {
		return fmt.Errorf("term length %d exceeds payload", n)
	}
	term := make([]byte, n)
	if _, err := io.ReadFull(r, term); err != nil {
		return err
	}
	_, err = s.InsertBytes(term)
	return err
}

// bloomHeaderSize covers m, k and the bitset length, each a big-endian
// uint64 in the marshalled filter.
const bloomHeaderSize = 24

func decodeBloom(r *bytes.Reader, added int64, budget *resource.Controller) (*TermSet, error) {
	rest := make([]byte, r.Len())
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("%w: bloom: %w", ErrCorrupted, err)
	}
	if len(rest) < bloomHeaderSize {
		return nil, fmt.Errorf("%w: bloom: short header", ErrCorrupted)
	}
	m := binary.BigEndian.Uint64(rest[0:8])
	bits := binary.BigEndian.Uint64(rest[16:24])
	words := uint64(len(rest)-bloomHeaderSize) / 8
	if bits > maxBloomBits || (bits+63)/64 != words || uint64(len(rest)-bloomHeaderSize)%8 != 0 || m != max(bits, 1) {
		return nil, fmt.Errorf("%w: bloom: %d bits do not match %d payload bytes", ErrCorrupted, bits, len(rest)-bloomHeaderSize)
	}

	s := &TermSet{enc: Bloom, budget: budget}
	if err := s.reserve(bitsetBytes(bits)); err != nil {
		return nil, err
	}
	f := &bloom.BloomFilter{}
	if err := f.UnmarshalBinary(rest); err != nil {
		s.Release()
		return nil, fmt.Errorf("%w: bloom: %w", ErrCorrupted, err)
	}
	s.filter = f
	s.bloomAdded = added
	return s, nil
}
