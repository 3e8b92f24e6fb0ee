// Package enginetest assembles small WebAssembly guest programs for tests.
package enginetest

const (
	I32 byte = 0x7f
	I64 byte = 0x7e

	ExportFunc   byte = 0x00
	ExportMemory byte = 0x02
	ExportGlobal byte = 0x03
)

type FuncType struct {
	Params  []byte
	Results []byte
}

type Import struct {
	Module string
	Name   string
	Type   uint32
}

type Func struct {
	Type uint32
	Body []byte
}

type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Module is a WebAssembly module with at most one memory and one data
// segment.
type Module struct {
	Types   []FuncType
	Imports []Import
	Funcs   []Func
	Memory  bool
	// Mutable i64 globals with their initial values.
	Globals []int64
	Exports []Export
	// Loaded at offset 0 of memory 0.
	Data []byte
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
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

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(count int, items []byte) []byte {
	return append(uleb(uint64(count)), items...)
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func I32Const(v int32) []byte {
	return append([]byte{0x41}, sleb(int64(v))...)
}

func I64Const(v int64) []byte {
	return append([]byte{0x42}, sleb(v)...)
}

func Call(funcIdx uint32) []byte {
	return append([]byte{0x10}, uleb(uint64(funcIdx))...)
}

func Unreachable() []byte {
	return []byte{0x00}
}

func Drop() []byte {
	return []byte{0x1a}
}

// Loop wraps [body] in a loop without parameters or results.
func Loop(body ...[]byte) []byte {
	return Concat([]byte{0x03, 0x40}, Concat(body...), []byte{0x0b})
}

// Br branches to the enclosing block or loop [depth] levels out.
func Br(depth uint32) []byte {
	return append([]byte{0x0c}, uleb(uint64(depth))...)
}

// Repeat returns [n] copies of [code].
func Repeat(n int, code []byte) []byte {
	var out []byte
	for range n {
		out = append(out, code...)
	}
	return out
}

func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.Types) > 0 {
		var items []byte
		for _, t := range m.Types {
			items = append(items, 0x60)
			items = append(items, vec(len(t.Params), t.Params)...)
			items = append(items, vec(len(t.Results), t.Results)...)
		}
		out = append(out, section(1, vec(len(m.Types), items))...)
	}

	if len(m.Imports) > 0 {
		var items []byte
		for _, imp := range m.Imports {
			items = append(items, name(imp.Module)...)
			items = append(items, name(imp.Name)...)
			items = append(items, ExportFunc)
			items = append(items, uleb(uint64(imp.Type))...)
		}
		out = append(out, section(2, vec(len(m.Imports), items))...)
	}

	if len(m.Funcs) > 0 {
		var items []byte
		for _, f := range m.Funcs {
			items = append(items, uleb(uint64(f.Type))...)
		}
		out = append(out, section(3, vec(len(m.Funcs), items))...)
	}

	if m.Memory {
		// One memory, min 1 page, no max.
		out = append(out, section(5, []byte{0x01, 0x00, 0x01})...)
	}

	if len(m.Globals) > 0 {
		var items []byte
		for _, v := range m.Globals {
			items = append(items, I64, 0x01)
			items = append(items, I64Const(v)...)
			items = append(items, 0x0b)
		}
		out = append(out, section(6, vec(len(m.Globals), items))...)
	}

	if len(m.Exports) > 0 {
		var items []byte
		for _, e := range m.Exports {
			items = append(items, name(e.Name)...)
			items = append(items, e.Kind)
			items = append(items, uleb(uint64(e.Index))...)
		}
		out = append(out, section(7, vec(len(m.Exports), items))...)
	}

	if len(m.Funcs) > 0 {
		var items []byte
		for _, f := range m.Funcs {
			// No locals, then the body and the end opcode.
			code := Concat([]byte{0x00}, f.Body, []byte{0x0b})
			items = append(items, uleb(uint64(len(code)))...)
			items = append(items, code...)
		}
		out = append(out, section(10, vec(len(m.Funcs), items))...)
	}

	if len(m.Data) > 0 {
		segment := Concat([]byte{0x00}, I32Const(0), []byte{0x0b}, vec(len(m.Data), m.Data))
		out = append(out, section(11, vec(1, segment))...)
	}

	return out
}

// Syscall is a host function a Program imports.
type Syscall struct {
	Name    string
	Params  []byte
	Results []byte
}

// Program is a guest that imports [Imports] from [HostModule] and exports
// its memory as "memory" plus an entrypoint running [Body].
type Program struct {
	HostModule string
	Imports    []Syscall
	Entrypoint string
	Body       []byte
	Data       []byte
}

// Index returns the function index of the named import.
func (p *Program) Index(syscall string) uint32 {
	for i, imp := range p.Imports {
		if imp.Name == syscall {
			return uint32(i)
		}
	}
	panic("syscall not imported: " + syscall)
}

func (p *Program) Bytes() []byte {
	m := &Module{
		Memory: true,
		Data:   p.Data,
	}
	for i, imp := range p.Imports {
		m.Types = append(m.Types, FuncType{Params: imp.Params, Results: imp.Results})
		m.Imports = append(m.Imports, Import{Module: p.HostModule, Name: imp.Name, Type: uint32(i)})
	}

	entrypoint := p.Entrypoint
	if entrypoint == "" {
		entrypoint = "entrypoint"
	}
	entrypointType := uint32(len(m.Types))
	m.Types = append(m.Types, FuncType{})
	m.Funcs = []Func{{Type: entrypointType, Body: p.Body}}
	m.Exports = []Export{
		{Name: "memory", Kind: ExportMemory, Index: 0},
		{Name: entrypoint, Kind: ExportFunc, Index: uint32(len(p.Imports))},
	}
	return m.Bytes()
}

// SectionCall pushes the arguments of log_compute_units_start or
// log_compute_units_end and calls [funcIdx].
func SectionCall(funcIdx uint32, addr, length int32, heap int64, withHeap bool) []byte {
	flag := int32(0)
	if withHeap {
		flag = 1
	}
	return Concat(
		I32Const(addr),
		I32Const(length),
		I64Const(heap),
		I32Const(flag),
		Call(funcIdx),
	)
}
