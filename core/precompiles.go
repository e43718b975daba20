package core

import "fmt"

// invokePrecompile serves the fixed block==800_000_000 address table (spec
// §4.7): no WASM is executed, no fuel is charged, and the opcode is the
// target's tx component. Everything it reads comes from the per-block
// BlockInfo the indexer (C9) fills in once per height, since Bitcoin block
// parsing itself is out of scope for the core (spec §1).
func invokePrecompile(msg *Message, opcode Uint128) (*CallResponse, error) {
	switch {
	case opcode.Cmp(U128FromU64(0)) == 0:
		return &CallResponse{Data: msg.Block.HeaderBytes}, nil
	case opcode.Cmp(U128FromU64(1)) == 0:
		return &CallResponse{Data: msg.Block.CoinbaseTxBytes}, nil
	case opcode.Cmp(U128FromU64(2)) == 0:
		return &CallResponse{Data: encodeU128Data(U128FromU64(msg.Block.DieselMintIntents))}, nil
	case opcode.Cmp(U128FromU64(3)) == 0:
		return &CallResponse{Data: encodeU128Data(msg.Block.CoinbaseOutputSum)}, nil
	default:
		return nil, NewEngineError(KindUnknownPrecompile, fmt.Sprintf("no precompile at opcode %s", opcode), nil)
	}
}

func encodeU128Data(v Uint128) []byte {
	b := v.Bytes16LE()
	return b[:]
}
