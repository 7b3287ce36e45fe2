package wasi

import (
	"context"
	"testing"

	"github.com/govm-net/scvm/carrier"
	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/gas"
	"github.com/govm-net/scvm/persistence"
	"github.com/govm-net/scvm/serialization"
	"github.com/govm-net/scvm/state"
	"github.com/govm-net/scvm/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractAddr = core.AddressFromString("0xc0ffee0000000000000000000000000000000001")
	senderAddr   = core.AddressFromString("0x1111111111111111111111111111111111111111")
	payeeAddr    = core.AddressFromString("0x2222222222222222222222222222222222222222")
)

// import indices of testContract
const (
	fnStorageRead uint32 = iota
	fnStorageWrite
	fnGas
	fnTransfer
	fnEmitLog
	fnSetReturn
	fnRevert
	fnParamRead
)

// testContract keeps "k" at 0, "v1" at 16, a 20 byte address at 48 and uses
// 96.. as scratch space.
func testContract() []byte {
	m := &wasmModule{
		types: []funcType{
			{},
			{params: []byte{i32, i32, i32, i32}, results: []byte{i32}},
			{params: []byte{i32, i32, i32, i32}},
			{params: []byte{i64}},
			{params: []byte{i32, i64}},
			{params: []byte{i32, i32}},
			{params: []byte{i32, i32, i32}, results: []byte{i32}},
		},
		imports: []wasmImport{
			{HostModule, "storage_read", 1},
			{HostModule, "storage_write", 2},
			{HostModule, "gas", 3},
			{HostModule, "transfer", 4},
			{HostModule, "emit_log", 2},
			{HostModule, "set_return", 5},
			{HostModule, "revert", 5},
			{HostModule, "param_read", 6},
		},
		funcs: []wasmFunc{
			{export: "constructor", body: code(
				i32Const(0), i32Const(1), i32Const(16), i32Const(2), call(fnStorageWrite),
			)},
			{export: "read", body: code(
				i32Const(0), i32Const(1), i32Const(96), i32Const(8), call(fnStorageRead), []byte{opDrop},
				i32Const(96), i32Const(2), call(fnSetReturn),
			)},
			{export: "burn", body: code(
				i64Const(1_000_000), call(fnGas),
			)},
			{export: "trap", body: []byte{opUnreachable}},
			{export: "pay", body: code(
				i32Const(48), i64Const(5), call(fnTransfer),
			)},
			{export: "log", body: code(
				i32Const(0), i32Const(1), i32Const(16), i32Const(2), call(fnEmitLog),
			)},
			{export: "fail", body: code(
				i32Const(16), i32Const(2), call(fnRevert),
			)},
			{export: "echo", body: code(
				i32Const(0), i32Const(96), i32Const(32), call(fnParamRead), []byte{opDrop},
				i32Const(96), i32Const(4), call(fnSetReturn),
			)},
			{export: "bad_signature", typeIndex: 3},
			{export: "pay_nothing", body: code(
				i32Const(48), i64Const(0), call(fnTransfer),
			)},
		},
		memory: true,
		data: []dataSegment{
			{offset: 0, data: []byte("k")},
			{offset: 16, data: []byte("v1")},
			{offset: 48, data: payeeAddr.Bytes()},
		},
	}
	return m.bytes()
}

func newTestVM(t *testing.T) *WazeroVM {
	t.Helper()
	w, err := NewWazeroVM(context.Background(), Config{CacheSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close(context.Background()) })
	return w
}

func newContext(repo *state.Repository, limit uint64, params ...carrier.Parameter) *vm.ExecutionContext {
	meter := gas.NewMeter(limit)
	prices := gas.DefaultPriceList()
	return &vm.ExecutionContext{
		Block: vm.Block{Height: 7},
		Message: vm.Message{
			ContractAddress: contractAddr,
			Sender:          senderAddr,
			GasLimit:        limit,
		},
		Parameters: params,
		State:      persistence.New(repo, contractAddr, meter, prices, persistence.BasicKeyEncoding{}),
		Meter:      meter,
		Prices:     prices,
	}
}

func TestValidate(t *testing.T) {
	w := newTestVM(t)

	verdict := w.Validate(testContract())
	assert.True(t, verdict.IsValid, verdict.Diagnostics)

	verdict = w.Validate([]byte("not wasm"))
	assert.False(t, verdict.IsValid)
	assert.NotEmpty(t, verdict.Diagnostics)
}

func TestValidateRejectsForeignImports(t *testing.T) {
	w := newTestVM(t)
	m := &wasmModule{
		types: []funcType{{}},
		imports: []wasmImport{
			{"wasi_snapshot_preview1", "proc_exit", 0},
			{HostModule, "read_clock", 0},
		},
		funcs: []wasmFunc{{export: "constructor"}},
	}

	verdict := w.Validate(m.bytes())
	assert.False(t, verdict.IsValid)
	require.Len(t, verdict.Diagnostics, 2)
	assert.Contains(t, verdict.Diagnostics[0], "wasi_snapshot_preview1")
	assert.Contains(t, verdict.Diagnostics[1], "read_clock")
}

func TestValidateRequiresEntryPoints(t *testing.T) {
	w := newTestVM(t)
	m := &wasmModule{types: []funcType{{}}, funcs: []wasmFunc{{}}}
	verdict := w.Validate(m.bytes())
	assert.False(t, verdict.IsValid)
}

func TestConstructorWritesStorage(t *testing.T) {
	w := newTestVM(t)
	repo := state.NewRepository(nil)
	ec := newContext(repo, 100_000)

	res, err := w.Invoke(context.Background(), testContract(), vm.ConstructorEntry, ec)
	require.NoError(t, err)
	assert.False(t, res.Revert)
	assert.Equal(t, []byte("v1"), repo.GetStorageValue(contractAddr, []byte("k")))
	assert.Equal(t, gas.DefaultPriceList().StorageWrite([]byte("k"), []byte("v1")), ec.Meter.Consumed())
}

func TestMissingConstructorIsNoop(t *testing.T) {
	w := newTestVM(t)
	m := &wasmModule{types: []funcType{{}}, funcs: []wasmFunc{{export: "run"}}}

	res, err := w.Invoke(context.Background(), m.bytes(), vm.ConstructorEntry, newContext(state.NewRepository(nil), 10))
	require.NoError(t, err)
	assert.Equal(t, &vm.VMResult{}, res)
}

func TestReadReturnsValue(t *testing.T) {
	w := newTestVM(t)
	repo := state.NewRepository(nil)
	repo.SetStorageValue(contractAddr, []byte("k"), []byte("hi"))

	res, err := w.Invoke(context.Background(), testContract(), "read", newContext(repo, 100_000))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), res.ReturnValue)
}

func TestUnknownMethod(t *testing.T) {
	w := newTestVM(t)
	_, err := w.Invoke(context.Background(), testContract(), "missing", newContext(state.NewRepository(nil), 100_000))
	assert.ErrorIs(t, err, core.ErrMethodNotFound)
}

func TestEntryWithArgumentsIsRejected(t *testing.T) {
	w := newTestVM(t)
	_, err := w.Invoke(context.Background(), testContract(), "bad_signature", newContext(state.NewRepository(nil), 100_000))
	assert.ErrorIs(t, err, errEntrySig)
}

func TestOutOfGasSurfacesAsError(t *testing.T) {
	w := newTestVM(t)
	ec := newContext(state.NewRepository(nil), 1_000)

	_, err := w.Invoke(context.Background(), testContract(), "burn", ec)
	require.Error(t, err)
	assert.True(t, gas.IsOutOfGas(err))
	assert.True(t, ec.Meter.Exhausted())
}

func TestTrapIsNotOutOfGas(t *testing.T) {
	w := newTestVM(t)
	ec := newContext(state.NewRepository(nil), 1_000)

	_, err := w.Invoke(context.Background(), testContract(), "trap", ec)
	require.Error(t, err)
	assert.False(t, gas.IsOutOfGas(err))
}

func TestTransferIsChargedAndRecorded(t *testing.T) {
	w := newTestVM(t)
	ec := newContext(state.NewRepository(nil), 100_000)

	res, err := w.Invoke(context.Background(), testContract(), "pay", ec)
	require.NoError(t, err)
	require.Len(t, res.InternalTransfers, 1)
	assert.Equal(t, core.Transfer{From: contractAddr, To: payeeAddr, Value: 5}, res.InternalTransfers[0])
	assert.Equal(t, ec.Prices.TransferCost, ec.Meter.Consumed())
}

func TestTransferChargedBeforeRecording(t *testing.T) {
	w := newTestVM(t)
	ec := newContext(state.NewRepository(nil), gas.DefaultPriceList().TransferCost-1)

	res, err := w.Invoke(context.Background(), testContract(), "pay", ec)
	require.Error(t, err)
	assert.True(t, gas.IsOutOfGas(err))
	assert.Nil(t, res)
}

func TestZeroTransferIsNotRecorded(t *testing.T) {
	w := newTestVM(t)
	ec := newContext(state.NewRepository(nil), 100_000)

	res, err := w.Invoke(context.Background(), testContract(), "pay_nothing", ec)
	require.NoError(t, err)
	assert.Empty(t, res.InternalTransfers)
	assert.Equal(t, ec.Prices.TransferCost, ec.Meter.Consumed())
}

func TestLogIsRecordedAndCharged(t *testing.T) {
	w := newTestVM(t)
	ec := newContext(state.NewRepository(nil), 100_000)

	res, err := w.Invoke(context.Background(), testContract(), "log", ec)
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, contractAddr, res.Logs[0].Address)
	assert.Equal(t, [][]byte{[]byte("k")}, res.Logs[0].Topics)
	assert.Equal(t, []byte("v1"), res.Logs[0].Data)
	assert.Equal(t, ec.Prices.Log([][]byte{[]byte("k")}, []byte("v1")), ec.Meter.Consumed())
}

func TestRevertIsReported(t *testing.T) {
	w := newTestVM(t)
	ec := newContext(state.NewRepository(nil), 100_000)

	res, err := w.Invoke(context.Background(), testContract(), "fail", ec)
	require.NoError(t, err)
	assert.True(t, res.Revert)
	assert.Equal(t, []byte("v1"), res.ReturnValue)
	assert.Equal(t, ec.Prices.ReturnData(2), ec.Meter.Consumed())
}

func TestReturnDataIsCharged(t *testing.T) {
	w := newTestVM(t)
	repo := state.NewRepository(nil)
	repo.SetStorageValue(contractAddr, []byte("k"), []byte("hi"))
	ec := newContext(repo, 100_000)

	_, err := w.Invoke(context.Background(), testContract(), "read", ec)
	require.NoError(t, err)
	want := ec.Prices.StorageRead([]byte("k"), []byte("hi")) + ec.Prices.ReturnData(2)
	assert.Equal(t, want, ec.Meter.Consumed())
}

func TestParameterRead(t *testing.T) {
	w := newTestVM(t)
	param, err := carrier.NewParameter(uint32(0xdeadbeef))
	require.NoError(t, err)

	res, err := w.Invoke(context.Background(), testContract(), "echo", newContext(state.NewRepository(nil), 100_000, param))
	require.NoError(t, err)
	want, err := serialization.Serialize(uint32(0xdeadbeef))
	require.NoError(t, err)
	assert.Equal(t, want, res.ReturnValue)
}

func TestEngineRunsWasmContracts(t *testing.T) {
	w := newTestVM(t)
	engine, err := vm.NewEngine(vm.DefaultConfig(), w, w)
	require.NoError(t, err)
	root := state.NewRepository(nil)

	create := &carrier.Invocation{
		OpCode:       carrier.OpCreateContract,
		GasPrice:     1,
		GasLimit:     100_000,
		ContractCode: testContract(),
		Sender:       senderAddr,
		TxHash:       [32]byte{0x42},
	}
	result, err := engine.Execute(context.Background(), root, create, vm.Block{Height: 1}, 0)
	require.NoError(t, err)
	require.True(t, result.Succeeded(), result.Exception)
	addr := *result.NewContractAddress

	call := &carrier.Invocation{
		OpCode:          carrier.OpCallContract,
		GasPrice:        1,
		GasLimit:        100_000,
		ContractAddress: addr,
		MethodName:      "read",
		Sender:          senderAddr,
		TxHash:          [32]byte{0x43},
	}
	result, err = engine.Execute(context.Background(), root, call, vm.Block{Height: 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), result.ReturnValue)

	call.MethodName = "burn"
	call.TxHash = [32]byte{0x44}
	result, err = engine.Execute(context.Background(), root, call, vm.Block{Height: 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, vm.ErrorKindOutOfGas, result.Kind)
}
