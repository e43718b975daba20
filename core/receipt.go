package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Encode serializes a CallResponse per spec §4.10:
// alkanes_parcel || storage_map || data, where storage_map is
// count(u128 LE) then per-entry key_len(u32 LE)||key||value_len(u32 LE)||value,
// followed by data_len(u32 LE)||data.
func (r *CallResponse) Encode() []byte {
	out := append([]byte{}, r.Alkanes.Encode()...)
	out = append(out, encodeStorageMap(r.Storage)...)

	var dl [4]byte
	binary.LittleEndian.PutUint32(dl[:], uint32(len(r.Data)))
	out = append(out, dl[:]...)
	out = append(out, r.Data...)
	return out
}

// encodeStorageMap serializes a pending-mutations map per §4.10: count(u128
// LE) then per-entry key_len(u32 LE)||key||value_len(u32 LE)||value. Keys
// are sorted so the encoding is deterministic (idempotent re-indexing, §8).
func encodeStorageMap(m map[string][]byte) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]byte, 0, 16)
	count := U128FromU64(uint64(len(keys))).Bytes16LE()
	out = append(out, count[:]...)
	for _, k := range keys {
		v := m[k]
		var kl, vl [4]byte
		binary.LittleEndian.PutUint32(kl[:], uint32(len(k)))
		binary.LittleEndian.PutUint32(vl[:], uint32(len(v)))
		out = append(out, kl[:]...)
		out = append(out, []byte(k)...)
		out = append(out, vl[:]...)
		out = append(out, v...)
	}
	return out
}

// decodeStorageMap is the inverse of encodeStorageMap, starting at offset
// off in b. It returns the decoded map and the offset just past it.
func decodeStorageMap(b []byte, off int) (map[string][]byte, int, error) {
	if off+16 > len(b) {
		return nil, 0, errors.New("storage map: truncated count")
	}
	count, err := U128FromLE16(b[off : off+16])
	if err != nil {
		return nil, 0, err
	}
	off += 16

	m := make(map[string][]byte, count.Lo)
	for i := uint64(0); i < count.Lo; i++ {
		if off+4 > len(b) {
			return nil, 0, errors.New("storage map: truncated key length")
		}
		kl := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		if off+kl > len(b) {
			return nil, 0, errors.New("storage map: truncated key")
		}
		key := string(b[off : off+kl])
		off += kl
		if off+4 > len(b) {
			return nil, 0, errors.New("storage map: truncated value length")
		}
		vl := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		if off+vl > len(b) {
			return nil, 0, errors.New("storage map: truncated value")
		}
		m[key] = append([]byte{}, b[off:off+vl]...)
		off += vl
	}
	return m, off, nil
}

// DecodeCallResponse is the inverse of Encode. It fails gracefully on
// truncated input rather than panicking.
func DecodeCallResponse(b []byte) (*CallResponse, error) {
	parcel, off, err := DecodeParcel(b)
	if err != nil {
		return nil, fmt.Errorf("call response: %w", err)
	}

	storage, off, err := decodeStorageMap(b, off)
	if err != nil {
		return nil, fmt.Errorf("call response: %w", err)
	}

	if off+4 > len(b) {
		return nil, errors.New("call response: truncated data length")
	}
	dl := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if off+dl > len(b) {
		return nil, errors.New("call response: truncated data")
	}
	data := append([]byte{}, b[off:off+dl]...)

	return &CallResponse{Alkanes: parcel, Storage: storage, Data: data}, nil
}

// RevertMagic is the four-byte marker prefixing every explicit revert
// payload (spec §4.10).
var RevertMagic = [4]byte{0x08, 0xC3, 0x79, 0xA0}

// EncodeRevert builds a revert payload: the magic bytes followed by a UTF-8
// error message.
func EncodeRevert(message string) []byte {
	out := make([]byte, 0, 4+len(message))
	out = append(out, RevertMagic[:]...)
	out = append(out, []byte(message)...)
	return out
}

// IsRevertPayload reports whether b begins with the revert magic.
func IsRevertPayload(b []byte) bool {
	return len(b) >= 4 && b[0] == RevertMagic[0] && b[1] == RevertMagic[1] && b[2] == RevertMagic[2] && b[3] == RevertMagic[3]
}

// DecodeRevertMessage extracts the UTF-8 message from a revert payload.
func DecodeRevertMessage(b []byte) string {
	if !IsRevertPayload(b) {
		return ""
	}
	return string(b[4:])
}
