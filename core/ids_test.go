package core

import "testing"

func TestUint128AddOverflow(t *testing.T) {
	max := Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}
	if _, err := max.Add(U128FromU64(1)); err == nil {
		t.Fatal("expected overflow error")
	}
	sum, err := U128FromU64(1).Add(U128FromU64(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Cmp(U128FromU64(3)) != 0 {
		t.Fatalf("expected 3, got %s", sum)
	}
}

func TestUint128SubUnderflow(t *testing.T) {
	if _, err := U128FromU64(1).Sub(U128FromU64(2)); err == nil {
		t.Fatal("expected underflow error")
	}
	diff, err := U128FromU64(5).Sub(U128FromU64(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff.Cmp(U128FromU64(3)) != 0 {
		t.Fatalf("expected 3, got %s", diff)
	}
}

func TestUint128RoundTripLE16(t *testing.T) {
	v := Uint128{Hi: 0x0102030405060708, Lo: 0x1112131415161718}
	b := v.Bytes16LE()
	got, err := U128FromLE16(b[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(v) != 0 {
		t.Fatalf("round trip mismatch: got %s want %s", got, v)
	}
}

func TestU128FromLE16WrongLength(t *testing.T) {
	if _, err := U128FromLE16([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected length error")
	}
}

func TestAlkaneIdBytes32RoundTrip(t *testing.T) {
	id := NewAlkaneId(2, 17)
	b := id.Bytes32()
	got, err := AlkaneIdFromBytes32(b[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(id) {
		t.Fatalf("round trip mismatch: got %s want %s", got, id)
	}
}

func TestAlkaneIdIsPrecompile(t *testing.T) {
	if NewAlkaneId(2, 5).IsPrecompile() {
		t.Fatal("(2,5) must not be a precompile id")
	}
	if !NewAlkaneId(BlockPrecompile, 3).IsPrecompile() {
		t.Fatal("(800000000,3) must be a precompile id")
	}
}

func TestAlkaneTransferParcelEncodeDecode(t *testing.T) {
	p := AlkaneTransferParcel{
		{ID: NewAlkaneId(2, 1), Value: U128FromU64(10)},
		{ID: NewAlkaneId(2, 2), Value: U128FromU64(20)},
	}
	enc := p.Encode()
	got, n, err := DecodeParcel(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(enc) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(enc), n)
	}
	if len(got) != 2 || got[0].Value.Cmp(U128FromU64(10)) != 0 || got[1].Value.Cmp(U128FromU64(20)) != 0 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodeParcelEmpty(t *testing.T) {
	enc := AlkaneTransferParcel{}.Encode()
	got, n, err := DecodeParcel(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 || n != 16 {
		t.Fatalf("expected empty parcel consuming 16 bytes, got %d entries, %d bytes", len(got), n)
	}
}

func TestDecodeParcelTruncated(t *testing.T) {
	if _, _, err := DecodeParcel([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestDecodeCellpackRoundTrip(t *testing.T) {
	cp := Cellpack{Target: NewAlkaneId(4, 7), Inputs: []Uint128{U128FromU64(1), U128FromU64(300)}}
	var buf []byte
	for _, v := range []Uint128{cp.Target.Block, cp.Target.Tx, cp.Inputs[0], cp.Inputs[1]} {
		buf = append(buf, encodeVarintForTest(v)...)
	}
	got, err := DecodeCellpack(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Target.Equal(cp.Target) || len(got.Inputs) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Inputs[0].Cmp(U128FromU64(1)) != 0 || got.Inputs[1].Cmp(U128FromU64(300)) != 0 {
		t.Fatalf("unexpected inputs: %+v", got.Inputs)
	}
}

func TestDecodeCellpackNeedsTwoWords(t *testing.T) {
	if _, err := DecodeCellpack(encodeVarintForTest(U128FromU64(1))); err == nil {
		t.Fatal("expected error for a cellpack with fewer than two words")
	}
}

func TestDecodeCellpackTruncatedVarint(t *testing.T) {
	if _, err := DecodeCellpack([]byte{0x80}); err == nil {
		t.Fatal("expected truncated varint error")
	}
}

// encodeVarintForTest is a minimal LEB128 encoder mirroring decodeVarint's
// format, kept test-local since the production code only ever needs to
// decode cellpacks (they are produced by the external Runestone encoder).
func encodeVarintForTest(v Uint128) []byte {
	var out []byte
	for {
		b := byte(v.Lo & 0x7f)
		v.Lo >>= 7
		v.Lo |= (v.Hi & 0x7f) << 57
		v.Hi >>= 7
		if v.Lo != 0 || v.Hi != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}
