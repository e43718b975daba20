package core

// Message is the mutable state shared by every call frame descended from one
// top-level protostone invocation (spec §3 "Context"): the checkpointed
// store, the trace log, the fuel meter and the raw block/transaction bytes.
// It plays the role the teacher's hostCtx/VMContext pair plays in
// virtual_machine.go, generalized to WASM-only execution.
type Message struct {
	Store           *AtomicPointer
	Trace           *Trace
	Height          uint64
	Network         NetworkParams
	BlockBytes      []byte
	TransactionByte []byte
	Txindex         uint32
	Block           BlockInfo
}

// BlockInfo is the subset of the surrounding Bitcoin block the precompiled
// table (§4.7) and the genesis routine need. Bitcoin block parsing itself is
// an explicit non-goal external collaborator (spec §1); the indexer (C9)
// decodes the block once per height and fills this in before dispatching
// any message against it.
type BlockInfo struct {
	HeaderBytes       []byte
	CoinbaseTxBytes   []byte
	CoinbaseOutputSum Uint128
	DieselMintIntents uint64
}

// Context is a single call frame: identity, inputs, incoming balances and a
// reference back to the shared Message (spec §3/§4.4).
type Context struct {
	Myself          AlkaneId
	Caller          AlkaneId
	IncomingAlkanes AlkaneTransferParcel
	Inputs          []Uint128
	Vout            uint32
	Returndata      []byte
	Msg             *Message
	Fuel            *CallFuel
}

// EngineState is the per-WASM-instance lifetime state (spec §4.4 item 2):
// it tracks whether any host call already marked the frame as failed,
// independent of whatever the guest later returns.
type EngineState struct {
	Ctx         *Context
	HadFailure  bool
	FailureMsg  string
	MaxMemory   uint32
	MaxTable    uint32
	MaxModuleSz uint32

	// Staged buffers bridge each __request_X/__load_X pair (spec §4.6): a
	// request call measures and stages a buffer, the paired load call copies
	// it into guest memory. Cleared by the engine between instances.
	pendingStorage     []byte
	pendingContext     []byte
	pendingTransaction []byte
	pendingBlock       []byte
	lastReturnData     []byte
}

// MarkFailed sets had_failure; once set, the frame is aborted regardless of
// what the guest subsequently does (spec §4.4).
func (e *EngineState) MarkFailed(msg string) {
	if e.HadFailure {
		return
	}
	e.HadFailure = true
	e.FailureMsg = msg
}

// SerializeContext produces the fixed-layout little-endian flattening the
// __load_context host function exposes to the guest (spec §4.4):
//
//	myself.block, myself.tx, caller.block, caller.tx, vout,
//	|incoming|, incoming[*].{block,tx,value}, inputs[*]
//
// vout and the incoming-count are themselves encoded as 16-byte LE u128
// words so every field in the layout has the same fixed width, which is
// what lets a guest walk the buffer without out-of-band framing.
func SerializeContext(ctx *Context) []byte {
	out := make([]byte, 0, 16*(4+1+1+len(ctx.IncomingAlkanes)*3+len(ctx.Inputs)))

	appendU128 := func(v Uint128) {
		b := v.Bytes16LE()
		out = append(out, b[:]...)
	}

	appendU128(ctx.Myself.Block)
	appendU128(ctx.Myself.Tx)
	appendU128(ctx.Caller.Block)
	appendU128(ctx.Caller.Tx)
	appendU128(U128FromU64(uint64(ctx.Vout)))
	appendU128(U128FromU64(uint64(len(ctx.IncomingAlkanes))))
	for _, t := range ctx.IncomingAlkanes {
		appendU128(t.ID.Block)
		appendU128(t.ID.Tx)
		appendU128(t.Value)
	}
	for _, in := range ctx.Inputs {
		appendU128(in)
	}
	return out
}
