package wasi

import (
	"bytes"
)

// Minimal WebAssembly binary writer for test contracts.

const (
	i32 byte = 0x7f
	i64 byte = 0x7e

	opUnreachable byte = 0x00
	opCall        byte = 0x10
	opDrop        byte = 0x1a
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
	opEnd         byte = 0x0b
)

type funcType struct {
	params, results []byte
}

type wasmImport struct {
	module, name string
	typeIndex    uint32
}

type wasmFunc struct {
	export    string
	typeIndex uint32
	body      []byte
}

type dataSegment struct {
	offset int32
	data   []byte
}

type wasmModule struct {
	types   []funcType
	imports []wasmImport
	funcs   []wasmFunc
	memory  bool
	data    []dataSegment
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func i32Const(v int32) []byte {
	return append([]byte{opI32Const}, sleb(int64(v))...)
}

func i64Const(v int64) []byte {
	return append([]byte{opI64Const}, sleb(v)...)
}

func call(index uint32) []byte {
	return append([]byte{opCall}, uleb(uint64(index))...)
}

func code(instrs ...[]byte) []byte {
	return bytes.Join(instrs, nil)
}

func (m *wasmModule) bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types [][]byte
	for _, t := range m.types {
		entry := []byte{0x60}
		entry = append(entry, uleb(uint64(len(t.params)))...)
		entry = append(entry, t.params...)
		entry = append(entry, uleb(uint64(len(t.results)))...)
		entry = append(entry, t.results...)
		types = append(types, entry)
	}
	out = append(out, section(1, vec(types...))...)

	if len(m.imports) > 0 {
		var imports [][]byte
		for _, imp := range m.imports {
			entry := append(wasmName(imp.module), wasmName(imp.name)...)
			entry = append(entry, 0x00)
			entry = append(entry, uleb(uint64(imp.typeIndex))...)
			imports = append(imports, entry)
		}
		out = append(out, section(2, vec(imports...))...)
	}

	var funcs, exports, bodies [][]byte
	for i, f := range m.funcs {
		funcs = append(funcs, uleb(uint64(f.typeIndex)))
		if f.export != "" {
			index := uint64(len(m.imports) + i)
			exports = append(exports, append(append(wasmName(f.export), 0x00), uleb(index)...))
		}
		body := append([]byte{0x00}, f.body...)
		body = append(body, opEnd)
		bodies = append(bodies, append(uleb(uint64(len(body))), body...))
	}
	if m.memory {
		exports = append(exports, append(wasmName("memory"), 0x02, 0x00))
	}

	out = append(out, section(3, vec(funcs...))...)
	if m.memory {
		out = append(out, section(5, vec([]byte{0x00, 0x01}))...)
	}
	out = append(out, section(7, vec(exports...))...)
	out = append(out, section(10, vec(bodies...))...)

	if len(m.data) > 0 {
		var segments [][]byte
		for _, d := range m.data {
			entry := []byte{0x00}
			entry = append(entry, i32Const(d.offset)...)
			entry = append(entry, opEnd)
			entry = append(entry, uleb(uint64(len(d.data)))...)
			entry = append(entry, d.data...)
			segments = append(segments, entry)
		}
		out = append(out, section(11, vec(segments...))...)
	}
	return out
}
