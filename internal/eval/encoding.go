package eval

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/weakscan/internal/position"
)

// Result encoding (before zstd):
// - Version (uint8): 1 byte
// - Score: 8 bytes (kind uint8, cp int32, plies uint16, winning uint8)
// - Depth (uint16): 2 bytes
// - BestMove (uint16): 2 bytes
// - PV length (uint8): 1 byte, then PV moves (uint16 each)
// - Alternative count (uint8): 1 byte, then per line: move (uint16) + score (8 bytes)

const (
	resultVersion    = 1
	scoreSize        = 1 + 4 + 2 + 1
	resultHeaderSize = 1 + scoreSize + 2 + 2 + 1
	altSize          = 2 + scoreSize
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return encoder, decoder, codecErr
}

func putScore(buf []byte, s Score) {
	buf[0] = byte(s.Kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(int32(s.CP)))
	binary.BigEndian.PutUint16(buf[5:7], uint16(s.Plies))
	if s.Winning {
		buf[7] = 1
	}
}

func readScore(buf []byte) (Score, error) {
	s := Score{
		Kind:    Kind(buf[0]),
		CP:      int(int32(binary.BigEndian.Uint32(buf[1:5]))),
		Plies:   int(binary.BigEndian.Uint16(buf[5:7])),
		Winning: buf[7] == 1,
	}
	if s.Kind != KindCentipawn && s.Kind != KindMate {
		return Score{}, fmt.Errorf("bad score kind %d", buf[0])
	}
	return s, nil
}

func packMove(uci string) uint16 {
	m, err := position.MoveFromUCI(uci)
	if err != nil {
		return uint16(position.NoMove)
	}
	return uint16(m)
}

// unpackMove reverses packMove. A stored move using the reserved bit, an
// unknown promotion piece, or the same from and to square is corrupt.
func unpackMove(raw uint16) (string, error) {
	m := position.Move(raw)
	if m == position.NoMove {
		return "", nil
	}
	from, to, promo := position.DecodeMove(m)
	if raw&0x8000 != 0 || promo > position.PromoKnight || from == to {
		return "", fmt.Errorf("%w: bad move %#04x", ErrCacheCorruption, raw)
	}
	return m.UCI(), nil
}

// encodeResult serializes r. Moves that cannot be encoded truncate the PV.
func encodeResult(r Result) ([]byte, error) {
	pv := make([]uint16, 0, len(r.PV))
	for _, m := range r.PV {
		pm := packMove(m)
		if pm == uint16(position.NoMove) || len(pv) == 255 {
			break
		}
		pv = append(pv, pm)
	}
	alts := r.Alternatives
	if len(alts) > 255 {
		alts = alts[:255]
	}

	buf := make([]byte, resultHeaderSize+2*len(pv)+1+altSize*len(alts))
	buf[0] = resultVersion
	putScore(buf[1:1+scoreSize], r.Score)
	off := 1 + scoreSize
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(r.Depth))
	binary.BigEndian.PutUint16(buf[off+2:off+4], packMove(r.BestMove))
	buf[off+4] = uint8(len(pv))
	off += 5
	for _, m := range pv {
		binary.BigEndian.PutUint16(buf[off:off+2], m)
		off += 2
	}
	buf[off] = uint8(len(alts))
	off++
	for _, a := range alts {
		binary.BigEndian.PutUint16(buf[off:off+2], packMove(a.Move))
		putScore(buf[off+2:off+altSize], a.Score)
		off += altSize
	}

	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(buf, nil), nil
}

// decodeResult reverses encodeResult. Any failure wraps ErrCacheCorruption.
func decodeResult(data []byte) (Result, error) {
	_, dec, err := codec()
	if err != nil {
		return Result{}, err
	}
	buf, err := dec.DecodeAll(data, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: decompress: %v", ErrCacheCorruption, err)
	}
	if len(buf) < resultHeaderSize+1 {
		return Result{}, fmt.Errorf("%w: result too short: got %d bytes, need at least %d", ErrCacheCorruption, len(buf), resultHeaderSize+1)
	}
	if buf[0] != resultVersion {
		return Result{}, fmt.Errorf("%w: unknown result version %d", ErrCacheCorruption, buf[0])
	}

	var r Result
	if r.Score, err = readScore(buf[1 : 1+scoreSize]); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCacheCorruption, err)
	}
	off := 1 + scoreSize
	r.Depth = int(binary.BigEndian.Uint16(buf[off : off+2]))
	if r.BestMove, err = unpackMove(binary.BigEndian.Uint16(buf[off+2 : off+4])); err != nil {
		return Result{}, err
	}
	npv := int(buf[off+4])
	off += 5
	if len(buf) < off+2*npv+1 {
		return Result{}, fmt.Errorf("%w: result too short for pv: got %d bytes, need %d", ErrCacheCorruption, len(buf), off+2*npv+1)
	}
	if npv > 0 {
		r.PV = make([]string, npv)
		for i := range r.PV {
			if r.PV[i], err = unpackMove(binary.BigEndian.Uint16(buf[off : off+2])); err != nil {
				return Result{}, err
			}
			off += 2
		}
	}
	nalt := int(buf[off])
	off++
	if len(buf) != off+altSize*nalt {
		return Result{}, fmt.Errorf("%w: result size mismatch: got %d bytes, want %d", ErrCacheCorruption, len(buf), off+altSize*nalt)
	}
	for i := 0; i < nalt; i++ {
		s, err := readScore(buf[off+2 : off+altSize])
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCacheCorruption, err)
		}
		mv, err := unpackMove(binary.BigEndian.Uint16(buf[off : off+2]))
		if err != nil {
			return Result{}, err
		}
		r.Alternatives = append(r.Alternatives, Alternative{Move: mv, Score: s})
		off += altSize
	}
	return r, nil
}
