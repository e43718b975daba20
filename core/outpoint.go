package core

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// FormatOutpoint builds the canonical "<txid>:<vout>" string the indexer
// uses as a trace persistence key (spec §4.9 step 4: "persisted under
// /traces/<outpoint>"). txidHex is the transaction id in the usual
// display (RPC) byte order; chainhash rejects non-hex input and strings
// longer than 64 hex characters, zero-pads shorter ones, and normalizes the
// result rather than this tree hand-rolling hex byte reversal.
func FormatOutpoint(txidHex string, vout uint32) (string, error) {
	h, err := chainhash.NewHashFromStr(txidHex)
	if err != nil {
		return "", NewEngineError(KindWasmValidation, fmt.Sprintf("invalid txid %q", txidHex), err)
	}
	return fmt.Sprintf("%s:%d", h.String(), vout), nil
}
