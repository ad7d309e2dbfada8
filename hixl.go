// Package hixl is a point-to-point memory transfer engine: one-sided
// reads and writes between registered memory regions across RoCE and
// Unified-Bus transports, addressed by engine name (spec §1-§9).
package hixl

import "github.com/ascend-hixl/hixl/internal/memreg"

// defaultEngine backs the package-level free functions mirroring the
// literal API surface spec §6 names. Most callers want exactly one
// engine per process, so the functions are the primary surface;
// NewEngine remains available for tests and multi-engine processes.
var defaultEngine = NewEngine()

func Initialize(localEngine string, options map[string]string) Status {
	return defaultEngine.Initialize(localEngine, options)
}

func Finalize() Status {
	return defaultEngine.Finalize()
}

func RegisterMem(addr, size uint64, typ memreg.MemType) (Status, memreg.Handle) {
	return defaultEngine.RegisterMem(addr, size, typ)
}

func DeregisterMem(h memreg.Handle) Status {
	return defaultEngine.DeregisterMem(h)
}

func Connect(remoteEngine string, timeoutMS uint32) Status {
	return defaultEngine.Connect(remoteEngine, timeoutMS)
}

func Disconnect(remoteEngine string, timeoutMS uint32) Status {
	return defaultEngine.Disconnect(remoteEngine, timeoutMS)
}

func TransferSync(remoteEngine string, op Op, descs []TransferDesc, timeoutMS uint32) Status {
	return defaultEngine.TransferSync(remoteEngine, op, descs, timeoutMS)
}

func TransferAsync(remoteEngine string, op Op, descs []TransferDesc) (Status, *Request) {
	return defaultEngine.TransferAsync(remoteEngine, op, descs)
}

func GetTransferStatus(req *Request) (Status, TransferStatus) {
	return defaultEngine.GetTransferStatus(req)
}
