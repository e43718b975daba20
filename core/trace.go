package core

import (
	"encoding/binary"
	"fmt"
)

// TraceEventKind enumerates the five event shapes a Trace may hold (spec §3
// "Trace").
type TraceEventKind uint8

const (
	EventReceiveIntent TraceEventKind = iota
	EventEnterCall
	EventReturnContext
	EventRevertContext
	EventValueTransfer
)

// ContextSnapshot is the immutable view of a Context captured at EnterCall
// time, before execution can mutate anything further.
type ContextSnapshot struct {
	Myself          AlkaneId
	Caller          AlkaneId
	IncomingAlkanes AlkaneTransferParcel
	Inputs          []Uint128
	Vout            uint32
}

func SnapshotContext(ctx *Context) ContextSnapshot {
	return ContextSnapshot{
		Myself:          ctx.Myself,
		Caller:          ctx.Caller,
		IncomingAlkanes: ctx.IncomingAlkanes.Clone(),
		Inputs:          append([]Uint128(nil), ctx.Inputs...),
		Vout:            ctx.Vout,
	}
}

// CallResponse is what a call frame returns on both success and failure
// paths (spec §4.10).
type CallResponse struct {
	Alkanes AlkaneTransferParcel
	Storage map[string][]byte
	Data    []byte
}

// TraceEvent is one entry in a call's trace log.
type TraceEvent struct {
	Kind       TraceEventKind
	Snapshot   *ContextSnapshot
	Response   *CallResponse
	Transfers  AlkaneTransferParcel
	RedirectTo uint32
}

// Trace is the ordered event log for one top-level protostone (spec §3).
type Trace struct {
	Events []TraceEvent
}

func NewTrace() *Trace { return &Trace{} }

func (t *Trace) ReceiveIntent(incoming AlkaneTransferParcel) {
	t.Events = append(t.Events, TraceEvent{Kind: EventReceiveIntent, Transfers: incoming.Clone()})
}

func (t *Trace) EnterCall(ctx *Context) {
	snap := SnapshotContext(ctx)
	t.Events = append(t.Events, TraceEvent{Kind: EventEnterCall, Snapshot: &snap})
}

func (t *Trace) ReturnContext(resp *CallResponse) {
	t.Events = append(t.Events, TraceEvent{Kind: EventReturnContext, Response: resp})
}

func (t *Trace) RevertContext(resp *CallResponse) {
	t.Events = append(t.Events, TraceEvent{Kind: EventRevertContext, Response: resp})
}

func (t *Trace) ValueTransfer(transfers AlkaneTransferParcel, redirectTo uint32) {
	if len(transfers) == 0 {
		return
	}
	t.Events = append(t.Events, TraceEvent{Kind: EventValueTransfer, Transfers: transfers.Clone(), RedirectTo: redirectTo})
}

func appendU32Prefixed(out []byte, b []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	out = append(out, l[:]...)
	return append(out, b...)
}

func snapshotBytes(s *ContextSnapshot) []byte {
	out := s.Myself.Block.Bytes16LE()
	b := out[:]
	out2 := s.Myself.Tx.Bytes16LE()
	b = append(b, out2[:]...)
	out3 := s.Caller.Block.Bytes16LE()
	b = append(b, out3[:]...)
	out4 := s.Caller.Tx.Bytes16LE()
	b = append(b, out4[:]...)
	var vout [4]byte
	binary.LittleEndian.PutUint32(vout[:], s.Vout)
	b = append(b, vout[:]...)
	b = appendU32Prefixed(b, s.IncomingAlkanes.Encode())
	inputs := make([]byte, 0, 16*len(s.Inputs))
	for _, in := range s.Inputs {
		w := in.Bytes16LE()
		inputs = append(inputs, w[:]...)
	}
	b = appendU32Prefixed(b, inputs)
	return b
}

func responseBytes(r *CallResponse) []byte {
	if r == nil {
		return nil
	}
	return r.Encode()
}

// Encode flattens the trace into the opaque byte form persisted under
// /traces/<outpoint> and served by the read-only `trace`/`traceblock` views
// (spec §4.9 step 4, §6). Each event is a one-byte kind tag followed by a
// u32-length-prefixed payload; the format has no separate decoder because
// the view surface serves it back verbatim.
func (t *Trace) Encode() []byte {
	out := make([]byte, 0, 256)
	for _, e := range t.Events {
		out = append(out, byte(e.Kind))
		switch e.Kind {
		case EventReceiveIntent:
			out = appendU32Prefixed(out, e.Transfers.Encode())
		case EventEnterCall:
			out = appendU32Prefixed(out, snapshotBytes(e.Snapshot))
		case EventReturnContext, EventRevertContext:
			out = appendU32Prefixed(out, responseBytes(e.Response))
		case EventValueTransfer:
			var redirect [4]byte
			binary.LittleEndian.PutUint32(redirect[:], e.RedirectTo)
			payload := append(append([]byte{}, redirect[:]...), e.Transfers.Encode()...)
			out = appendU32Prefixed(out, payload)
		}
	}
	return out
}

// Validate checks the structural invariant spec §8 requires of every
// top-level trace: exactly one ReceiveIntent, at least one EnterCall, and a
// single terminal ReturnContext XOR RevertContext, with a ValueTransfer
// following a non-empty successful return.
func (t *Trace) Validate() error {
	var receiveCount, enterCount, returnCount, revertCount int
	var lastTerminal TraceEventKind
	var lastTerminalIdx = -1
	for i, e := range t.Events {
		switch e.Kind {
		case EventReceiveIntent:
			receiveCount++
			if i != 0 {
				return fmt.Errorf("trace: ReceiveIntent must be first, found at %d", i)
			}
		case EventEnterCall:
			enterCount++
		case EventReturnContext:
			returnCount++
			lastTerminal = EventReturnContext
			lastTerminalIdx = i
		case EventRevertContext:
			revertCount++
			lastTerminal = EventRevertContext
			lastTerminalIdx = i
		}
	}
	if receiveCount != 1 {
		return fmt.Errorf("trace: expected exactly one ReceiveIntent, found %d", receiveCount)
	}
	if enterCount < 1 {
		return fmt.Errorf("trace: expected at least one EnterCall, found 0")
	}
	if returnCount+revertCount != 1 {
		return fmt.Errorf("trace: expected exactly one terminal ReturnContext XOR RevertContext, found %d/%d", returnCount, revertCount)
	}
	if lastTerminal == EventReturnContext {
		resp := t.Events[lastTerminalIdx].Response
		if resp != nil && len(resp.Alkanes) > 0 {
			hasTransfer := false
			for j := lastTerminalIdx + 1; j < len(t.Events); j++ {
				if t.Events[j].Kind == EventValueTransfer {
					hasTransfer = true
				}
			}
			if !hasTransfer {
				return fmt.Errorf("trace: ReturnContext carries a non-empty outgoing parcel but no ValueTransfer followed")
			}
		}
	}
	return nil
}
