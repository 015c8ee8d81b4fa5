// Package matcher implements the matcher call/return ABI (spec.md §4.4,
// C4): the fixed 67-byte call frame, the fixed 64-byte return frame, and
// total-correctness validation of a matcher's return. Grounded in shape on
// the original program's NoOpMatcher/MatchingEngine trait boundary
// (_examples/original_source/src/percolator.rs re-exports
// `percolator::{NoOpMatcher, MatchingEngine, TradeExecution}`) — the actual
// matcher pricing policy is an external collaborator out of scope (spec.md
// §1); only the frame shapes and validation rules are ours to implement.
package matcher

import (
	"bytes"
	"encoding/binary"

	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
)

// Return-frame flag bits (spec.md §4.4).
const (
	FlagValid     uint32 = 1
	FlagPartialOK uint32 = 2
	FlagRejected  uint32 = 4
)

// ABIVersion is the only return-frame ABI version the engine accepts.
const ABIVersion uint32 = 1

// CallFrameLen is the call frame's fixed wire length.
const CallFrameLen = 1 + 8 + 2 + 8 + 8 + 16 + 24

// ReturnFrameLen is the return frame's fixed wire length.
const ReturnFrameLen = 4 + 4 + 8 + 16 + 8 + 8 + 8 + 8

// CallFrame is the fixed 67-byte request the engine issues to an LP's bound
// matcher for one trade.
type CallFrame struct {
	ReqID         uint64
	LPIdx         uint16
	LPAccountID   uint64
	OraclePriceE6 uint64
	ReqSize       fx128.Int128
}

// Marshal encodes c as the 67-byte little-endian call frame (tag=0 first
// byte, 24 zero reserved bytes trailing).
func (c CallFrame) Marshal() []byte {
	b := make([]byte, CallFrameLen)
	b[0] = 0 // tag
	off := 1
	binary.LittleEndian.PutUint64(b[off:off+8], c.ReqID)
	off += 8
	binary.LittleEndian.PutUint16(b[off:off+2], c.LPIdx)
	off += 2
	binary.LittleEndian.PutUint64(b[off:off+8], c.LPAccountID)
	off += 8
	binary.LittleEndian.PutUint64(b[off:off+8], c.OraclePriceE6)
	off += 8
	sz := c.ReqSize.Bytes16()
	copy(b[off:off+16], sz[:])
	return b
}

// UnmarshalCallFrame decodes a 67-byte call frame.
func UnmarshalCallFrame(b []byte) (CallFrame, error) {
	if len(b) != CallFrameLen {
		return CallFrame{}, errkind.New(errkind.InvalidMatchingEngine, "call frame length %d, want %d", len(b), CallFrameLen)
	}
	var c CallFrame
	off := 1 // skip tag
	c.ReqID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	c.LPIdx = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	c.LPAccountID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	c.OraclePriceE6 = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	var sz [16]byte
	copy(sz[:], b[off:off+16])
	c.ReqSize = fx128.I128SetBytes16(sz)
	return c, nil
}

// ReturnFrame is the fixed 64-byte response a matcher writes back.
type ReturnFrame struct {
	ABIVersion    uint32
	Flags         uint32
	ExecPriceE6   uint64
	ExecSize      fx128.Int128
	ReqID         uint64
	LPAccountID   uint64
	OraclePriceE6 uint64
}

// Marshal encodes r as the 64-byte little-endian return frame (8 zero
// reserved bytes trailing).
func (r ReturnFrame) Marshal() []byte {
	b := make([]byte, ReturnFrameLen)
	off := 0
	binary.LittleEndian.PutUint32(b[off:off+4], r.ABIVersion)
	off += 4
	binary.LittleEndian.PutUint32(b[off:off+4], r.Flags)
	off += 4
	binary.LittleEndian.PutUint64(b[off:off+8], r.ExecPriceE6)
	off += 8
	sz := r.ExecSize.Bytes16()
	copy(b[off:off+16], sz[:])
	off += 16
	binary.LittleEndian.PutUint64(b[off:off+8], r.ReqID)
	off += 8
	binary.LittleEndian.PutUint64(b[off:off+8], r.LPAccountID)
	off += 8
	binary.LittleEndian.PutUint64(b[off:off+8], r.OraclePriceE6)
	return b
}

// UnmarshalReturnFrame decodes a 64-byte return frame. The trailing 8
// reserved bytes are checked to be all-zero by Validate, not here.
func UnmarshalReturnFrame(b []byte) (ReturnFrame, error) {
	if len(b) != ReturnFrameLen {
		return ReturnFrame{}, errkind.New(errkind.InvalidMatchingEngine, "return frame length %d, want %d", len(b), ReturnFrameLen)
	}
	var r ReturnFrame
	off := 0
	r.ABIVersion = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	r.Flags = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	r.ExecPriceE6 = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	var sz [16]byte
	copy(sz[:], b[off:off+16])
	r.ExecSize = fx128.I128SetBytes16(sz)
	off += 16
	r.ReqID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	r.LPAccountID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	r.OraclePriceE6 = binary.LittleEndian.Uint64(b[off : off+8])
	return r, nil
}

// Validate applies spec.md §4.4's total-correctness rule: reject unless
// every field is exactly consistent with the call that produced it. Any
// other outcome must abort the trade with no state change.
func Validate(call CallFrame, raw []byte) (ReturnFrame, error) {
	ret, err := UnmarshalReturnFrame(raw)
	if err != nil {
		return ReturnFrame{}, err
	}
	reject := func(format string, args ...any) (ReturnFrame, error) {
		return ReturnFrame{}, errkind.New(errkind.InvalidMatchingEngine, format, args...)
	}

	if len(raw) != ReturnFrameLen {
		return reject("return frame length %d, want %d", len(raw), ReturnFrameLen)
	}
	var reserved [8]byte
	if !bytes.Equal(raw[ReturnFrameLen-8:], reserved[:]) {
		return reject("reserved bytes not zero")
	}
	if ret.ABIVersion != ABIVersion {
		return reject("abi_version %d, want %d", ret.ABIVersion, ABIVersion)
	}
	if ret.Flags&FlagValid == 0 {
		return reject("VALID flag not set")
	}
	if ret.Flags&FlagRejected != 0 {
		return reject("REJECTED flag set")
	}
	if ret.ExecPriceE6 == 0 {
		return reject("exec_price_e6 is zero")
	}
	if ret.ReqID != call.ReqID {
		return reject("req_id echo mismatch: got %d want %d", ret.ReqID, call.ReqID)
	}
	if ret.LPAccountID != call.LPAccountID {
		return reject("lp_account_id echo mismatch: got %d want %d", ret.LPAccountID, call.LPAccountID)
	}
	if ret.OraclePriceE6 != call.OraclePriceE6 {
		return reject("oracle_price_e6 echo mismatch: got %d want %d", ret.OraclePriceE6, call.OraclePriceE6)
	}
	partialOK := ret.Flags&FlagPartialOK != 0
	if ret.ExecSize.IsZero() && !partialOK {
		return reject("exec_size is zero without PARTIAL_OK")
	}
	if !ret.ExecSize.IsZero() {
		if ret.ExecSize.Sign() != call.ReqSize.Sign() {
			return reject("exec_size sign %d does not match req_size sign %d", ret.ExecSize.Sign(), call.ReqSize.Sign())
		}
		absExec, err := ret.ExecSize.Abs()
		if err != nil {
			return reject("exec_size abs: %v", err)
		}
		absReq, err := call.ReqSize.Abs()
		if err != nil {
			return reject("req_size abs: %v", err)
		}
		if absExec.Cmp(absReq) > 0 {
			return reject("|exec_size| %s exceeds |req_size| %s", absExec, absReq)
		}
	}
	return ret, nil
}

// Matcher is the pluggable pricing policy bound to an LP at registration.
// Its concrete implementation (an external program/process) is out of
// scope (spec.md §1); the engine only ever sees this ABI boundary.
type Matcher interface {
	// Execute issues one call frame and returns the raw 64-byte return
	// frame bytes exactly as written by the matcher, unvalidated.
	Execute(call CallFrame) ([]byte, error)
}

// NoOpMatcher is the trivial matcher (spec.md §6): it fills the full
// requested size at the oracle price with no external call, standing in for
// the original program's `NoOpMatcher` re-export. It does not look at Hyperp
// mode itself; the TradeNoCpi rejection in Hyperp mode (spec.md §9) is made
// by engine.ExecuteTrade from its isCpi argument, whichever matcher is
// passed, and cmd/node uses NoOpMatcher for a TradeCpi.
type NoOpMatcher struct{}

// Execute fills call.ReqSize in full at call.OraclePriceE6.
func (NoOpMatcher) Execute(call CallFrame) ([]byte, error) {
	ret := ReturnFrame{
		ABIVersion:    ABIVersion,
		Flags:         FlagValid,
		ExecPriceE6:   call.OraclePriceE6,
		ExecSize:      call.ReqSize,
		ReqID:         call.ReqID,
		LPAccountID:   call.LPAccountID,
		OraclePriceE6: call.OraclePriceE6,
	}
	return ret.Marshal(), nil
}
