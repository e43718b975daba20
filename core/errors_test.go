package core

import (
	"errors"
	"testing"
)

func TestEngineErrorFatalOnlyIntegrityViolation(t *testing.T) {
	for _, kind := range []ErrorKind{
		KindMemoryAccess, KindWasmValidation, KindResourceExhausted, KindFuel,
		KindRecursion, KindUnknownOpcode, KindUnknownPrecompile, KindOverflow,
	} {
		if NewEngineError(kind, "x", nil).Fatal() {
			t.Fatalf("%s must not be fatal", kind)
		}
	}
	if !NewEngineError(KindIntegrityViolation, "x", nil).Fatal() {
		t.Fatal("IntegrityViolation must be fatal")
	}
}

func TestEngineErrorIsRevert(t *testing.T) {
	revertKinds := []ErrorKind{KindResourceExhausted, KindFuel, KindRecursion, KindOverflow, KindUnknownOpcode, KindUnknownPrecompile}
	for _, kind := range revertKinds {
		if !NewEngineError(kind, "x", nil).IsRevert() {
			t.Fatalf("%s must be a revert kind", kind)
		}
	}
	nonRevertKinds := []ErrorKind{KindMemoryAccess, KindWasmValidation, KindIntegrityViolation}
	for _, kind := range nonRevertKinds {
		if NewEngineError(kind, "x", nil).IsRevert() {
			t.Fatalf("%s must not be a revert kind", kind)
		}
	}
}

func TestEngineErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	wrapped := NewEngineError(KindMemoryAccess, "oob read", inner)
	if !errors.Is(wrapped, inner) {
		t.Fatal("expected errors.Is to see through EngineError.Unwrap")
	}
}
