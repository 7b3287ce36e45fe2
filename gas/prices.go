package gas

// PriceList is the cost model. All costs are pure functions of the shape of
// the operation being charged.
type PriceList struct {
	// BaseCost is charged once per invocation before any user code runs.
	BaseCost uint64
	// StorageWritePerByte is charged per byte of key plus value written.
	StorageWritePerByte uint64
	// StorageReadPerByte is charged per byte of key plus value read.
	StorageReadPerByte uint64
	// InstructionCost is charged per metered instruction reported by the VM.
	InstructionCost uint64
	// MethodCallCost is charged when a contract entry point is dispatched.
	MethodCallCost uint64
	// LogCost is charged per log plus LogBytePerByte per topic and data byte.
	LogCost        uint64
	LogBytePerByte uint64
	// TransferCost is charged per internal value transfer.
	TransferCost uint64
	// ReturnBytePerByte is charged per byte of return or revert data.
	ReturnBytePerByte uint64
	// ValidationPerByte is charged per byte of code checked on create.
	ValidationPerByte uint64
}

// DefaultPriceList returns the cost model used on mainnet.
func DefaultPriceList() PriceList {
	return PriceList{
		BaseCost:            10_000,
		StorageWritePerByte: 20,
		StorageReadPerByte:  1,
		InstructionCost:     1,
		MethodCallCost:      5,
		LogCost:             100,
		LogBytePerByte:      1,
		TransferCost:        1_000,
		ReturnBytePerByte:   1,
		ValidationPerByte:   0,
	}
}

func (p PriceList) StorageWrite(key, value []byte) uint64 {
	return uint64(len(key)+len(value)) * p.StorageWritePerByte
}

func (p PriceList) StorageRead(key, value []byte) uint64 {
	return uint64(len(key)+len(value)) * p.StorageReadPerByte
}

func (p PriceList) Instructions(n uint64) uint64 {
	return n * p.InstructionCost
}

func (p PriceList) Log(topics [][]byte, data []byte) uint64 {
	size := len(data)
	for _, t := range topics {
		size += len(t)
	}
	return p.LogCost + uint64(size)*p.LogBytePerByte
}

func (p PriceList) ReturnData(size uint32) uint64 {
	return uint64(size) * p.ReturnBytePerByte
}

func (p PriceList) Validation(code []byte) uint64 {
	return uint64(len(code)) * p.ValidationPerByte
}
