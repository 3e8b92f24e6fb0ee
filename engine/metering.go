package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	stdmath "math"
	"slices"
	"strings"
)

// FuelGlobalName is the export under which a metered module exposes its
// remaining fuel to the host.
const FuelGlobalName = "pulseprof_fuel"

var (
	ErrMalformedModule        = errors.New("malformed module")
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
	ErrReservedExport         = errors.New("export name is reserved")
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

const (
	sectionCustom = 0
	sectionImport = 2
	sectionGlobal = 6
	sectionExport = 7
	sectionCode   = 10

	externGlobal = 0x03
	valueTypeI64 = 0x7e
)

const (
	opUnreachable        = 0x00
	opBlock              = 0x02
	opLoop               = 0x03
	opIf                 = 0x04
	opElse               = 0x05
	opEnd                = 0x0b
	opBr                 = 0x0c
	opBrIf               = 0x0d
	opBrTable            = 0x0e
	opReturn             = 0x0f
	opCall               = 0x10
	opCallIndirect       = 0x11
	opReturnCall         = 0x12
	opReturnCallIndirect = 0x13
	opGlobalGet          = 0x23
	opGlobalSet          = 0x24
	opI64Const           = 0x42
	opI64LtS             = 0x53
	opI64Sub             = 0x7d
	opMiscPrefix         = 0xfc
	opVectorPrefix       = 0xfd

	blockTypeEmpty = 0x40
)

// InstrumentMetering rewrites [code] so that every straight-line run of
// guest instructions pays [instructionCost] per instruction before it runs.
// Payment is taken from a mutable i64 global exported as FuelGlobalName and
// initialized to [fuel]. When the global drops below zero the guest traps.
//
// Regions end at control flow and calls, so a syscall always sees the cost
// of everything the guest executed before it. [code] must already have been
// accepted by wazero.
func InstrumentMetering(code []byte, instructionCost uint64, fuel int64) ([]byte, error) {
	sections, err := splitSections(code)
	if err != nil {
		return nil, err
	}

	var importedGlobals, definedGlobals uint64
	for _, s := range sections {
		switch s.id {
		case sectionImport:
			importedGlobals, err = countImportedGlobals(s.content)
		case sectionGlobal:
			definedGlobals, _, err = readCount(s.content)
		}
		if err != nil {
			return nil, err
		}
	}
	fuelIndex := importedGlobals + definedGlobals

	sections = ensureSection(sections, sectionGlobal)
	sections = ensureSection(sections, sectionExport)

	out := slices.Clone(wasmHeader)
	for _, s := range sections {
		content := s.content
		switch s.id {
		case sectionGlobal:
			content, err = appendFuelGlobal(content, fuel)
		case sectionExport:
			content, err = appendFuelExport(content, fuelIndex)
		case sectionCode:
			content, err = meterCode(content, instructionCost, fuelIndex)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s.id)
		out = binary.AppendUvarint(out, uint64(len(content)))
		out = append(out, content...)
	}
	return out, nil
}

type wasmSection struct {
	id      byte
	content []byte
}

func splitSections(code []byte) ([]wasmSection, error) {
	if !bytes.HasPrefix(code, wasmHeader) {
		return nil, fmt.Errorf("%w: bad header", ErrMalformedModule)
	}

	r := &wasmReader{b: code, pos: len(wasmHeader)}
	var sections []wasmSection
	for r.pos < len(r.b) {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		content, err := r.vec()
		if err != nil {
			return nil, err
		}
		// Debug info addresses code by offset, which instrumentation moves.
		if id == sectionCustom && isDebugSection(content) {
			continue
		}
		sections = append(sections, wasmSection{id: id, content: content})
	}
	return sections, nil
}

func isDebugSection(content []byte) bool {
	r := &wasmReader{b: content}
	name, err := r.vec()
	return err == nil && strings.HasPrefix(string(name), ".debug_")
}

// sectionOrder is the position a known section must take in a module.
func sectionOrder(id byte) int {
	switch id {
	case 13: // tag
		return 55
	case 12: // data count
		return 95
	case 10:
		return 100
	case 11:
		return 110
	default:
		return int(id) * 10
	}
}

// ensureSection adds an empty section [id] in its canonical place unless the
// module already has one.
func ensureSection(sections []wasmSection, id byte) []wasmSection {
	insertAt := len(sections)
	for i, s := range sections {
		if s.id == id {
			return sections
		}
		if s.id != sectionCustom && sectionOrder(s.id) > sectionOrder(id) && insertAt == len(sections) {
			insertAt = i
		}
	}
	return slices.Insert(sections, insertAt, wasmSection{id: id, content: []byte{0x00}})
}

func readCount(content []byte) (uint64, []byte, error) {
	r := &wasmReader{b: content}
	count, err := r.uleb()
	if err != nil {
		return 0, nil, err
	}
	return count, content[r.pos:], nil
}

func countImportedGlobals(content []byte) (uint64, error) {
	r := &wasmReader{b: content}
	count, err := r.uleb()
	if err != nil {
		return 0, err
	}

	var globals uint64
	for i := uint64(0); i < count; i++ {
		if _, err := r.vec(); err != nil {
			return 0, err
		}
		if _, err := r.vec(); err != nil {
			return 0, err
		}
		kind, err := r.readByte()
		if err != nil {
			return 0, err
		}
		switch kind {
		case 0x00: // func
			_, err = r.uleb()
		case 0x01: // table
			if _, err = r.readByte(); err == nil {
				err = r.limits()
			}
		case 0x02: // memory
			err = r.limits()
		case externGlobal:
			globals++
			err = r.skip(2)
		case 0x04: // tag
			if _, err = r.readByte(); err == nil {
				_, err = r.uleb()
			}
		default:
			err = fmt.Errorf("%w: import kind %#x", ErrMalformedModule, kind)
		}
		if err != nil {
			return 0, err
		}
	}
	return globals, nil
}

func appendFuelGlobal(content []byte, fuel int64) ([]byte, error) {
	count, rest, err := readCount(content)
	if err != nil {
		return nil, err
	}
	out := binary.AppendUvarint(nil, count+1)
	out = append(out, rest...)
	out = append(out, valueTypeI64, 0x01, opI64Const)
	out = appendSLEB(out, fuel)
	return append(out, opEnd), nil
}

func appendFuelExport(content []byte, fuelIndex uint64) ([]byte, error) {
	r := &wasmReader{b: content}
	count, err := r.uleb()
	if err != nil {
		return nil, err
	}
	entries := r.pos
	for i := uint64(0); i < count; i++ {
		name, err := r.vec()
		if err != nil {
			return nil, err
		}
		if string(name) == FuelGlobalName {
			return nil, fmt.Errorf("%w: %s", ErrReservedExport, FuelGlobalName)
		}
		if err := r.skip(1); err != nil {
			return nil, err
		}
		if _, err := r.uleb(); err != nil {
			return nil, err
		}
	}

	out := binary.AppendUvarint(nil, count+1)
	out = append(out, content[entries:]...)
	out = binary.AppendUvarint(out, uint64(len(FuelGlobalName)))
	out = append(out, FuelGlobalName...)
	out = append(out, externGlobal)
	return binary.AppendUvarint(out, fuelIndex), nil
}

func meterCode(content []byte, instructionCost, fuelIndex uint64) ([]byte, error) {
	r := &wasmReader{b: content}
	count, err := r.uleb()
	if err != nil {
		return nil, err
	}

	out := binary.AppendUvarint(nil, count)
	for i := uint64(0); i < count; i++ {
		body, err := r.vec()
		if err != nil {
			return nil, err
		}
		metered, err := meterBody(body, instructionCost, fuelIndex)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		out = binary.AppendUvarint(out, uint64(len(metered)))
		out = append(out, metered...)
	}
	return out, nil
}

func meterBody(body []byte, instructionCost, fuelIndex uint64) ([]byte, error) {
	r := &wasmReader{b: body}
	groups, err := r.uleb()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < groups; i++ {
		if _, err := r.uleb(); err != nil {
			return nil, err
		}
		if err := r.skip(1); err != nil {
			return nil, err
		}
	}
	out := slices.Clone(body[:r.pos])

	var (
		depth        = 1
		regionStart  = r.pos
		instructions uint64
	)
	flush := func() {
		out = appendCharge(out, fuelIndex, saturatingMul(instructions, instructionCost))
		out = append(out, body[regionStart:r.pos]...)
		regionStart = r.pos
		instructions = 0
	}
	for depth > 0 {
		op, err := r.readByte()
		if err != nil {
			return nil, err
		}
		instructions++
		endsRegion, err := r.immediates(op)
		if err != nil {
			return nil, err
		}
		switch op {
		case opBlock, opLoop, opIf:
			depth++
		case opEnd:
			depth--
		}
		if endsRegion || depth == 0 {
			flush()
		}
	}
	if r.pos != len(body) {
		return nil, fmt.Errorf("%w: trailing bytes after function end", ErrMalformedModule)
	}
	return out, nil
}

// appendCharge emits
//
//	fuel -= cost
//	if fuel < 0 { unreachable }
func appendCharge(out []byte, fuelIndex, cost uint64) []byte {
	cost = min(cost, stdmath.MaxInt64)

	out = append(out, opGlobalGet)
	out = binary.AppendUvarint(out, fuelIndex)
	out = append(out, opI64Const)
	out = appendSLEB(out, int64(cost))
	out = append(out, opI64Sub, opGlobalSet)
	out = binary.AppendUvarint(out, fuelIndex)

	out = append(out, opGlobalGet)
	out = binary.AppendUvarint(out, fuelIndex)
	out = append(out, opI64Const, 0x00, opI64LtS, opIf, blockTypeEmpty, opUnreachable, opEnd)
	return out
}

func appendSLEB(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

type wasmReader struct {
	b   []byte
	pos int
}

func (r *wasmReader) readByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("%w: unexpected end", ErrMalformedModule)
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *wasmReader) skip(n int) error {
	if n > len(r.b)-r.pos {
		return fmt.Errorf("%w: unexpected end", ErrMalformedModule)
	}
	r.pos += n
	return nil
}

func (r *wasmReader) uleb() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad integer", ErrMalformedModule)
	}
	r.pos += n
	return v, nil
}

func (r *wasmReader) sleb() error {
	for i := 0; i < 10; i++ {
		b, err := r.readByte()
		if err != nil {
			return err
		}
		if b&0x80 == 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: bad integer", ErrMalformedModule)
}

// vec reads a length-prefixed byte vector.
func (r *wasmReader) vec() ([]byte, error) {
	n, err := r.uleb()
	if err != nil {
		return nil, err
	}
	start := r.pos
	if n > uint64(len(r.b)-start) {
		return nil, fmt.Errorf("%w: unexpected end", ErrMalformedModule)
	}
	r.pos += int(n)
	return r.b[start:r.pos], nil
}

func (r *wasmReader) ulebs(n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.uleb(); err != nil {
			return err
		}
	}
	return nil
}

func (r *wasmReader) limits() error {
	flags, err := r.readByte()
	if err != nil {
		return err
	}
	if flags&0x01 != 0 {
		return r.ulebs(2)
	}
	return r.ulebs(1)
}

func (r *wasmReader) memarg() error {
	align, err := r.uleb()
	if err != nil {
		return err
	}
	// Bit 6 of the alignment announces an explicit memory index.
	if align&0x40 != 0 {
		if _, err := r.uleb(); err != nil {
			return err
		}
	}
	_, err = r.uleb()
	return err
}

func (r *wasmReader) blockType() error {
	if r.pos >= len(r.b) {
		return fmt.Errorf("%w: unexpected end", ErrMalformedModule)
	}
	switch r.b[r.pos] {
	case blockTypeEmpty, 0x7f, 0x7e, 0x7d, 0x7c, 0x7b, 0x70, 0x6f:
		r.pos++
		return nil
	default:
		return r.sleb()
	}
}

// immediates skips the immediates of [op] and reports whether the
// instruction ends a metering region.
func (r *wasmReader) immediates(op byte) (bool, error) {
	switch {
	case op == opUnreachable, op == opElse, op == opEnd, op == opReturn:
		return true, nil
	case op == 0x01, op == 0x1a, op == 0x1b, op == 0xd1:
		return false, nil
	case op == opBlock, op == opLoop, op == opIf:
		return true, r.blockType()
	case op == opBr, op == opBrIf, op == opCall, op == opReturnCall:
		return true, r.ulebs(1)
	case op == opCallIndirect, op == opReturnCallIndirect:
		return true, r.ulebs(2)
	case op == opBrTable:
		n, err := r.uleb()
		if err != nil {
			return false, err
		}
		return true, r.ulebs(int(min(n, uint64(len(r.b)))) + 1)
	case op == 0x1c: // select t*
		n, err := r.uleb()
		if err != nil {
			return false, err
		}
		return false, r.skip(int(min(n, uint64(len(r.b)))))
	case op >= 0x20 && op <= 0x26: // locals, globals, table.get/set
		return false, r.ulebs(1)
	case op >= 0x28 && op <= 0x3e: // loads and stores
		return false, r.memarg()
	case op == 0x3f, op == 0x40: // memory.size, memory.grow
		return false, r.ulebs(1)
	case op == 0x41, op == opI64Const:
		return false, r.sleb()
	case op == 0x43:
		return false, r.skip(4)
	case op == 0x44:
		return false, r.skip(8)
	case op >= 0x45 && op <= 0xc4: // numeric
		return false, nil
	case op == 0xd0: // ref.null
		return false, r.skip(1)
	case op == 0xd2: // ref.func
		return false, r.ulebs(1)
	case op == opMiscPrefix:
		return false, r.miscImmediates()
	case op == opVectorPrefix:
		return false, r.vectorImmediates()
	default:
		return false, fmt.Errorf("%w: opcode %#x", ErrUnsupportedInstruction, op)
	}
}

func (r *wasmReader) miscImmediates() error {
	sub, err := r.uleb()
	if err != nil {
		return err
	}
	switch {
	case sub <= 7: // saturating truncation
		return nil
	case sub == 8, sub == 10, sub == 12, sub == 14:
		return r.ulebs(2)
	case sub <= 17:
		return r.ulebs(1)
	default:
		return fmt.Errorf("%w: opcode 0xfc %d", ErrUnsupportedInstruction, sub)
	}
}

func (r *wasmReader) vectorImmediates() error {
	sub, err := r.uleb()
	if err != nil {
		return err
	}
	switch {
	case sub <= 11, sub == 92, sub == 93: // loads and stores
		return r.memarg()
	case sub == 12, sub == 13: // v128.const, i8x16.shuffle
		return r.skip(16)
	case sub >= 21 && sub <= 34: // lane access
		return r.skip(1)
	case sub >= 84 && sub <= 91: // lane loads and stores
		if err := r.memarg(); err != nil {
			return err
		}
		return r.skip(1)
	default:
		return nil
	}
}
