// Package sandboxtest assembles small WebAssembly guests for tests.
package sandboxtest

import (
	"encoding/binary"
	"math"
)

// ValType is a wasm value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

// dataBase is where the first data segment is placed.
const dataBase = 1024

type funcType struct {
	params, results []ValType
}

type funcImport struct {
	module, name string
	typ          uint32
}

type function struct {
	typ    uint32
	export string
	locals []ValType
	body   []byte
}

type segment struct {
	offset uint32
	data   []byte
}

// Module builds a guest with one exported memory. Function indexes count
// imports first, so every Import must precede the first Func.
type Module struct {
	types     []funcType
	imports   []funcImport
	funcs     []function
	data      []segment
	dataEnd   uint32
	allocator bool
}

// New returns an empty module.
func New() *Module {
	return &Module{dataEnd: dataBase}
}

func (m *Module) typeIndex(params, results []ValType) uint32 {
	for i, t := range m.types {
		if equal(t.params, params) && equal(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

func equal(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Import declares an imported function and returns its index.
func (m *Module) Import(module, name string, params, results []ValType) uint32 {
	if len(m.funcs) > 0 {
		panic("sandboxtest: Import after Func")
	}
	m.imports = append(m.imports, funcImport{module: module, name: name, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function, exported under export when it is not empty, and
// returns its index. body must not include the final end opcode.
func (m *Module) Func(export string, params, results, locals []ValType, body ...[]byte) uint32 {
	var code []byte
	for _, b := range body {
		code = append(code, b...)
	}
	m.funcs = append(m.funcs, function{
		typ:    m.typeIndex(params, results),
		export: export,
		locals: locals,
		body:   code,
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Data places b in memory and returns its address and length.
func (m *Module) Data(b []byte) (ptr, n uint32) {
	ptr = m.dataEnd
	m.data = append(m.data, segment{offset: ptr, data: b})
	m.dataEnd = align(ptr+uint32(len(b)), 8)
	return ptr, uint32(len(b))
}

// Reserve sets aside n zeroed bytes and returns their address.
func (m *Module) Reserve(n uint32) uint32 {
	ptr := m.dataEnd
	m.dataEnd = align(ptr+n, 8)
	return ptr
}

// WithAllocator exports a bump canonical_abi_realloc that hands out memory
// after the data segments.
func (m *Module) WithAllocator() *Module {
	m.allocator = true
	return m
}

func align(v, to uint32) uint32 { return (v + to - 1) / to * to }

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	funcs := m.funcs
	if m.allocator {
		i32 := []ValType{I32, I32, I32, I32}
		funcs = append(funcs, function{
			typ:    m.typeIndex(i32, []ValType{I32}),
			export: "canonical_abi_realloc",
			body:   concat(GlobalGet(0), GlobalGet(0), LocalGet(3), I32Add(), GlobalSet(0)),
		})
	}

	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	var sec []byte
	sec = uleb(sec, uint64(len(m.types)))
	for _, t := range m.types {
		sec = append(sec, 0x60)
		sec = valTypes(sec, t.params)
		sec = valTypes(sec, t.results)
	}
	out = section(out, 1, sec)

	if len(m.imports) > 0 {
		sec = uleb(nil, uint64(len(m.imports)))
		for _, imp := range m.imports {
			sec = name(sec, imp.module)
			sec = name(sec, imp.name)
			sec = append(sec, 0x00)
			sec = uleb(sec, uint64(imp.typ))
		}
		out = section(out, 2, sec)
	}

	sec = uleb(nil, uint64(len(funcs)))
	for _, f := range funcs {
		sec = uleb(sec, uint64(f.typ))
	}
	out = section(out, 3, sec)

	pages := (m.dataEnd + 64<<10) / (64 << 10)
	out = section(out, 5, uleb([]byte{0x01, 0x00}, uint64(pages+1)))

	if m.allocator {
		sec = []byte{0x01, byte(I32), 0x01}
		sec = append(sec, I32Const(int32(align(m.dataEnd, 16)))...)
		sec = append(sec, 0x0b)
		out = section(out, 6, sec)
	}

	var exports [][]byte
	exports = append(exports, export(nil, "memory", 0x02, 0))
	for i, f := range funcs {
		if f.export != "" {
			exports = append(exports, export(nil, f.export, 0x00, uint32(len(m.imports)+i)))
		}
	}
	sec = uleb(nil, uint64(len(exports)))
	for _, e := range exports {
		sec = append(sec, e...)
	}
	out = section(out, 7, sec)

	sec = uleb(nil, uint64(len(funcs)))
	for _, f := range funcs {
		var body []byte
		body = uleb(body, uint64(len(f.locals)))
		for _, l := range f.locals {
			body = append(body, 0x01, byte(l))
		}
		body = append(body, f.body...)
		body = append(body, 0x0b)
		sec = uleb(sec, uint64(len(body)))
		sec = append(sec, body...)
	}
	out = section(out, 10, sec)

	if len(m.data) > 0 {
		sec = uleb(nil, uint64(len(m.data)))
		for _, d := range m.data {
			sec = append(sec, 0x00)
			sec = append(sec, I32Const(int32(d.offset))...)
			sec = append(sec, 0x0b)
			sec = uleb(sec, uint64(len(d.data)))
			sec = append(sec, d.data...)
		}
		out = section(out, 11, sec)
	}
	return out
}

func section(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = uleb(out, uint64(len(body)))
	return append(out, body...)
}

func valTypes(b []byte, ts []ValType) []byte {
	b = uleb(b, uint64(len(ts)))
	for _, t := range ts {
		b = append(b, byte(t))
	}
	return b
}

func name(b []byte, s string) []byte {
	b = uleb(b, uint64(len(s)))
	return append(b, s...)
}

func export(b []byte, n string, kind byte, idx uint32) []byte {
	b = name(b, n)
	b = append(b, kind)
	return uleb(b, uint64(idx))
}

func uleb(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

func sleb(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Instructions.

func I32Const(v int32) []byte { return sleb([]byte{0x41}, int64(v)) }
func I64Const(v int64) []byte { return sleb([]byte{0x42}, v) }
func Call(idx uint32) []byte { return uleb([]byte{0x10}, uint64(idx)) }
func LocalGet(i uint32) []byte { return uleb([]byte{0x20}, uint64(i)) }
func LocalSet(i uint32) []byte { return uleb([]byte{0x21}, uint64(i)) }
func GlobalGet(i uint32) []byte {
	return uleb([]byte{0x23}, uint64(i))
}
func GlobalSet(i uint32) []byte {
	return uleb([]byte{0x24}, uint64(i))
}
func Drop() []byte { return []byte{0x1a} }
func I32Add() []byte { return []byte{0x6a} }
func I32Eqz() []byte { return []byte{0x45} }
func Unreachable() []byte { return []byte{0x00} }
func End() []byte { return []byte{0x0b} }

// I32Load loads the i32 at the address on the stack plus offset.
func I32Load(offset uint32) []byte {
	return uleb([]byte{0x28, 0x02}, uint64(offset))
}

// If opens a block without results that runs when the i32 on the stack is
// non-zero. Close it with End.
func If() []byte { return []byte{0x04, 0x40} }

// Spin is an infinite loop.
func Spin() []byte {
	return []byte{0x03, 0x40, 0x0c, 0x00, 0x0b}
}

// CheckOK traps unless the i32 on the stack is zero.
func CheckOK() []byte {
	return concat(I32Eqz(), I32Eqz(), If(), Unreachable(), End())
}

// CheckHandle traps when the i32 on the stack is negative and otherwise
// stores it in local i.
func CheckHandle(local uint32) []byte {
	return concat(
		LocalSet(local),
		LocalGet(local), I32Const(math.MinInt32), []byte{0x71}, // i32.and
		If(), Unreachable(), End(),
	)
}
