package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// Uint128 is a checked, fixed-width 128-bit unsigned integer. Fuel, balances
// and AlkaneId components are all u128 per the data model; a Hi/Lo pair keeps
// arithmetic deterministic and overflow-checkable without pulling in
// arbitrary-precision math, mirroring the fixed-width checked style
// CallFuel.Charge uses for fuel (see fuel.go).
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// ZeroU128 is the additive identity.
var ZeroU128 = Uint128{}

// U128FromU64 lifts a uint64 into a Uint128.
func U128FromU64(v uint64) Uint128 { return Uint128{Lo: v} }

// Add returns a+b and an error on overflow past 2^128-1.
func (a Uint128) Add(b Uint128) (Uint128, error) {
	lo, carry := bits.Add64(a.Lo, b.Lo, 0)
	hi, carryOut := bits.Add64(a.Hi, b.Hi, carry)
	if carryOut != 0 {
		return Uint128{}, errors.New("u128 overflow")
	}
	return Uint128{Hi: hi, Lo: lo}, nil
}

// Sub returns a-b and an error if b>a (no underflow is ever persisted, §4.2).
func (a Uint128) Sub(b Uint128) (Uint128, error) {
	if a.Cmp(b) < 0 {
		return Uint128{}, errors.New("u128 underflow")
	}
	lo, borrow := bits.Sub64(a.Lo, b.Lo, 0)
	hi, _ := bits.Sub64(a.Hi, b.Hi, borrow)
	return Uint128{Hi: hi, Lo: lo}, nil
}

// Cmp returns -1, 0 or 1.
func (a Uint128) Cmp(b Uint128) int {
	if a.Hi != b.Hi {
		if a.Hi < b.Hi {
			return -1
		}
		return 1
	}
	if a.Lo != b.Lo {
		if a.Lo < b.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero reports whether the value is exactly zero.
func (a Uint128) IsZero() bool { return a.Hi == 0 && a.Lo == 0 }

// Bytes16LE encodes the value as the 16-byte little-endian buffer used
// throughout the storage and wire encodings (spec §4.10).
func (a Uint128) Bytes16LE() [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[0:8], a.Lo)
	binary.LittleEndian.PutUint64(out[8:16], a.Hi)
	return out
}

// U128FromLE16 decodes a 16-byte little-endian buffer into a Uint128.
func U128FromLE16(b []byte) (Uint128, error) {
	if len(b) != 16 {
		return Uint128{}, fmt.Errorf("u128: expected 16 bytes, got %d", len(b))
	}
	return Uint128{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

func (a Uint128) String() string {
	if a.Hi == 0 {
		return fmt.Sprintf("%d", a.Lo)
	}
	return fmt.Sprintf("0x%016x%016x", a.Hi, a.Lo)
}

// Special AlkaneId.Block sentinels (spec §3 "Identifiers").
const (
	BlockDeployUnusedSequence = 1 // (1,*) -> allocate (2, ++sequence)
	BlockExistingTemplate     = 2 // direct addressing of a (2,n) identity
	BlockDeployAtTemplate     = 3 // (3,tx) -> deploy-at-template, becomes (4,tx)
	BlockTemplateNamespace    = 4 // (4,tx) template storage namespace
	BlockFactoryFromTemplate  = 5 // (5,tx) -> clone of (4,tx), new sequence
	BlockFactoryDeterministic = 6 // (6,tx) -> clone at deterministic (2,tx)
	BlockPrecompile           = 800_000_000
)

// AlkaneId is the (block,tx) pair identifying an alkane, per spec §3.
type AlkaneId struct {
	Block Uint128
	Tx    Uint128
}

func NewAlkaneId(block, tx uint64) AlkaneId {
	return AlkaneId{Block: U128FromU64(block), Tx: U128FromU64(tx)}
}

// Bytes32 is the 32-byte storage-key encoding: block(LE16) || tx(LE16).
func (id AlkaneId) Bytes32() [32]byte {
	var out [32]byte
	b := id.Block.Bytes16LE()
	t := id.Tx.Bytes16LE()
	copy(out[0:16], b[:])
	copy(out[16:32], t[:])
	return out
}

func AlkaneIdFromBytes32(b []byte) (AlkaneId, error) {
	if len(b) != 32 {
		return AlkaneId{}, fmt.Errorf("alkane id: expected 32 bytes, got %d", len(b))
	}
	block, err := U128FromLE16(b[0:16])
	if err != nil {
		return AlkaneId{}, err
	}
	tx, err := U128FromLE16(b[16:32])
	if err != nil {
		return AlkaneId{}, err
	}
	return AlkaneId{Block: block, Tx: tx}, nil
}

func (id AlkaneId) String() string {
	return fmt.Sprintf("(%s,%s)", id.Block, id.Tx)
}

func (id AlkaneId) Equal(other AlkaneId) bool {
	return id.Block.Cmp(other.Block) == 0 && id.Tx.Cmp(other.Tx) == 0
}

// IsPrecompile reports whether this id addresses the precompile table (§4.7).
func (id AlkaneId) IsPrecompile() bool {
	return id.Block.Cmp(U128FromU64(BlockPrecompile)) == 0
}

// AlkaneTransfer is a single balance movement (spec §3).
type AlkaneTransfer struct {
	ID    AlkaneId
	Value Uint128
}

// AlkaneTransferParcel is an ordered sequence of transfers; order is
// significant (child calls observe the same order the caller passed, §3).
type AlkaneTransferParcel []AlkaneTransfer

// Clone returns an independent copy so callers never alias caller-owned
// slices across a call boundary.
func (p AlkaneTransferParcel) Clone() AlkaneTransferParcel {
	out := make(AlkaneTransferParcel, len(p))
	copy(out, p)
	return out
}

// Encode serializes the parcel per §4.10: count(u128 LE) then per-entry
// block,tx,value (u128 LE each).
func (p AlkaneTransferParcel) Encode() []byte {
	out := make([]byte, 0, 16+len(p)*48)
	cnt := U128FromU64(uint64(len(p))).Bytes16LE()
	out = append(out, cnt[:]...)
	for _, t := range p {
		b := t.ID.Block.Bytes16LE()
		tx := t.ID.Tx.Bytes16LE()
		v := t.Value.Bytes16LE()
		out = append(out, b[:]...)
		out = append(out, tx[:]...)
		out = append(out, v[:]...)
	}
	return out
}

// DecodeParcel is the inverse of Encode. It fails gracefully on truncation.
func DecodeParcel(b []byte) (AlkaneTransferParcel, int, error) {
	if len(b) < 16 {
		return nil, 0, errors.New("parcel: truncated count")
	}
	count, err := U128FromLE16(b[0:16])
	if err != nil {
		return nil, 0, err
	}
	if count.Hi != 0 || count.Lo > uint64(len(b)/48) {
		return nil, 0, errors.New("parcel: truncated or implausible count")
	}
	n := int(count.Lo)
	off := 16
	out := make(AlkaneTransferParcel, 0, n)
	for i := 0; i < n; i++ {
		if off+48 > len(b) {
			return nil, 0, errors.New("parcel: truncated entry")
		}
		block, _ := U128FromLE16(b[off : off+16])
		tx, _ := U128FromLE16(b[off+16 : off+32])
		val, _ := U128FromLE16(b[off+32 : off+48])
		out = append(out, AlkaneTransfer{ID: AlkaneId{Block: block, Tx: tx}, Value: val})
		off += 48
	}
	return out, off, nil
}

// Cellpack is the decoded call payload: target id plus input words (§GLOSSARY).
type Cellpack struct {
	Target AlkaneId
	Inputs []Uint128
}

// decodeVarint reads an unsigned LEB128 varint, returning the value, bytes
// consumed, and an error on truncation (§4.10 "Decode must fail gracefully").
func decodeVarint(b []byte) (Uint128, int, error) {
	var result Uint128
	shift := uint(0)
	for i := 0; i < len(b); i++ {
		by := b[i]
		chunk := U128FromU64(uint64(by & 0x7f))
		if shift >= 128 {
			return Uint128{}, 0, errors.New("cellpack: varint too long")
		}
		shifted, err := shiftLeft128(chunk, shift)
		if err != nil {
			return Uint128{}, 0, err
		}
		result, err = result.Add(shifted)
		if err != nil {
			return Uint128{}, 0, err
		}
		shift += 7
		if by&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return Uint128{}, 0, errors.New("cellpack: truncated varint")
}

func shiftLeft128(v Uint128, shift uint) (Uint128, error) {
	overflow := errors.New("u128 shift overflow")
	switch {
	case shift == 0:
		return v, nil
	case shift >= 128:
		if v.IsZero() {
			return Uint128{}, nil
		}
		return Uint128{}, overflow
	case shift == 64:
		if v.Hi != 0 {
			return Uint128{}, overflow
		}
		return Uint128{Hi: v.Lo, Lo: 0}, nil
	case shift > 64:
		amt := shift - 64
		if v.Hi != 0 || v.Lo>>(64-amt) != 0 {
			return Uint128{}, overflow
		}
		return Uint128{Hi: v.Lo << amt, Lo: 0}, nil
	default: // 0 < shift < 64
		if v.Hi>>(64-shift) != 0 {
			return Uint128{}, overflow
		}
		return Uint128{Hi: (v.Hi << shift) | (v.Lo >> (64 - shift)), Lo: v.Lo << shift}, nil
	}
}

// DecodeCellpack decodes a little-endian varint stream into a Cellpack: the
// first two varints are target.block/target.tx, the remainder are inputs
// (spec §4.10). Truncated streams fail gracefully with an error, never a
// panic.
func DecodeCellpack(b []byte) (Cellpack, error) {
	var words []Uint128
	off := 0
	for off < len(b) {
		v, n, err := decodeVarint(b[off:])
		if err != nil {
			return Cellpack{}, fmt.Errorf("cellpack: %w", err)
		}
		words = append(words, v)
		off += n
	}
	if len(words) < 2 {
		return Cellpack{}, errors.New("cellpack: need at least target.block and target.tx")
	}
	return Cellpack{
		Target: AlkaneId{Block: words[0], Tx: words[1]},
		Inputs: words[2:],
	}, nil
}
