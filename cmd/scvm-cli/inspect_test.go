package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/govm-net/scvm/wasi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// module exporting "constructor" () -> (), optionally importing env.foo.
func inspectModule(withImport bool) []byte {
	code := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	code = append(code, 0x01, 0x04, 0x01, 0x60, 0x00, 0x00)
	funcIndex := byte(0)
	if withImport {
		code = append(code, 0x02, 0x0b, 0x01, 0x03, 'e', 'n', 'v', 0x03, 'f', 'o', 'o', 0x00, 0x00)
		funcIndex = 1
	}
	code = append(code, 0x03, 0x02, 0x01, 0x00)
	code = append(code, 0x07, 0x0f, 0x01, 0x0b)
	code = append(code, []byte("constructor")...)
	code = append(code, 0x00, funcIndex)
	code = append(code, 0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b)
	return code
}

func TestInspectValidModule(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, inspect(context.Background(), &out, inspectModule(false), wasi.Config{}))

	assert.Contains(t, out.String(), "  - constructor() -> ()\n")
	assert.Contains(t, out.String(), "Valid: yes\n")
}

func TestInspectReportsUnknownImport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, inspect(context.Background(), &out, inspectModule(true), wasi.Config{}))

	assert.Contains(t, out.String(), "  - env.foo() -> ()\n")
	assert.Contains(t, out.String(), "Valid: no\n")
	assert.Contains(t, out.String(), `unknown host function "foo"`)
}

func TestInspectRejectsGarbage(t *testing.T) {
	var out bytes.Buffer
	err := inspect(context.Background(), &out, []byte("not wasm"), wasi.Config{})
	assert.ErrorContains(t, err, "failed to compile module")
}
