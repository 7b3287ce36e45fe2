package wasi

import (
	"context"

	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/serialization"
	"github.com/govm-net/scvm/vm"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// invocation is the host side state of one running entry point.
type invocation struct {
	ec     *vm.ExecutionContext
	result vm.VMResult
}

type invocationKey struct{}

func withInvocation(ctx context.Context, inv *invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

func current(ctx context.Context) *invocation {
	inv, ok := ctx.Value(invocationKey{}).(*invocation)
	if !ok {
		panic(errNoInvocation)
	}
	return inv
}

func read(m api.Module, ptr, size uint32) []byte {
	data, ok := m.Memory().Read(ptr, size)
	if !ok {
		panic(errMemoryAccess)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func write(m api.Module, ptr uint32, data []byte) {
	if !m.Memory().Write(ptr, data) {
		panic(errMemoryAccess)
	}
}

// writeBuffer copies data into the guest buffer at ptr if it fits in size
// bytes and returns the full length, so the guest can retry with a larger
// buffer.
func writeBuffer(m api.Module, ptr, size uint32, data []byte) int32 {
	if uint32(len(data)) <= size {
		write(m, ptr, data)
	}
	return int32(len(data))
}

func readAddress(m api.Module, ptr uint32) core.Address {
	return core.AddressFromBytes(read(m, ptr, core.AddressLength))
}

// hostFunctions is the complete host interface. Pointers and lengths are
// i32, amounts i64. Functions returning a length return -1 for "absent".
var hostFunctions = map[string]any{
	// gas(amount i64) charges amount metered instructions
	"gas": func(ctx context.Context, amount uint64) {
		inv := current(ctx)
		inv.ec.Meter.Spend(inv.ec.Prices.Instructions(amount))
	},
	"storage_read": func(ctx context.Context, m api.Module, keyPtr, keyLen, valPtr, valCap uint32) int32 {
		value := current(ctx).ec.State.GetBytes(string(read(m, keyPtr, keyLen)))
		if value == nil {
			return -1
		}
		return writeBuffer(m, valPtr, valCap, value)
	},
	"storage_write": func(ctx context.Context, m api.Module, keyPtr, keyLen, valPtr, valLen uint32) {
		current(ctx).ec.State.SetBytes(string(read(m, keyPtr, keyLen)), read(m, valPtr, valLen))
	},
	"param_count": func(ctx context.Context) uint32 {
		return uint32(len(current(ctx).ec.Parameters))
	},
	"param_kind": func(ctx context.Context, index uint32) int32 {
		params := current(ctx).ec.Parameters
		if index >= uint32(len(params)) {
			return -1
		}
		return int32(params[index].Kind)
	},
	"param_read": func(ctx context.Context, m api.Module, index, ptr, size uint32) int32 {
		params := current(ctx).ec.Parameters
		if index >= uint32(len(params)) {
			return -1
		}
		data, err := serialization.SerializeAs(params[index].Kind, params[index].Value)
		if err != nil {
			panic(err)
		}
		return writeBuffer(m, ptr, size, data)
	},
	"get_sender": func(ctx context.Context, m api.Module, ptr uint32) {
		addr := current(ctx).ec.Message.Sender
		write(m, ptr, addr[:])
	},
	"get_address": func(ctx context.Context, m api.Module, ptr uint32) {
		addr := current(ctx).ec.Message.ContractAddress
		write(m, ptr, addr[:])
	},
	"get_coinbase": func(ctx context.Context, m api.Module, ptr uint32) {
		addr := current(ctx).ec.Block.Coinbase
		write(m, ptr, addr[:])
	},
	"get_block_height": func(ctx context.Context) uint64 {
		return current(ctx).ec.Block.Height
	},
	"get_value": func(ctx context.Context) uint64 {
		return current(ctx).ec.Message.Value
	},
	"get_balance": func(ctx context.Context) uint64 {
		return current(ctx).ec.State.GetBalance()
	},
	// transfer of a zero amount is charged but not recorded
	"transfer": func(ctx context.Context, m api.Module, toPtr uint32, amount uint64) {
		inv := current(ctx)
		inv.ec.Meter.Spend(inv.ec.Prices.TransferCost)
		if amount == 0 {
			return
		}
		inv.result.InternalTransfers = append(inv.result.InternalTransfers, core.Transfer{
			From:  inv.ec.Message.ContractAddress,
			To:    readAddress(m, toPtr),
			Value: amount,
		})
	},
	"emit_log": func(ctx context.Context, m api.Module, topicPtr, topicLen, dataPtr, dataLen uint32) {
		inv := current(ctx)
		var topics [][]byte
		if topicLen > 0 {
			topics = append(topics, read(m, topicPtr, topicLen))
		}
		data := read(m, dataPtr, dataLen)
		inv.ec.Meter.Spend(inv.ec.Prices.Log(topics, data))
		inv.result.Logs = append(inv.result.Logs, core.Log{
			Address: inv.ec.Message.ContractAddress,
			Topics:  topics,
			Data:    data,
		})
	},
	"set_return": func(ctx context.Context, m api.Module, ptr, size uint32) {
		inv := current(ctx)
		inv.ec.Meter.Spend(inv.ec.Prices.ReturnData(size))
		inv.result.ReturnValue = read(m, ptr, size)
	},
	// revert marks the invocation failed; the entry point should return
	// right after calling it
	"revert": func(ctx context.Context, m api.Module, ptr, size uint32) {
		inv := current(ctx)
		inv.ec.Meter.Spend(inv.ec.Prices.ReturnData(size))
		inv.result.Revert = true
		inv.result.ReturnValue = read(m, ptr, size)
	},
}

func buildHostModule(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	for name, fn := range hostFunctions {
		builder.NewFunctionBuilder().WithFunc(fn).Export(name)
	}
	return builder
}
