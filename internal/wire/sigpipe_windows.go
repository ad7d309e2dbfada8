//go:build windows

package wire

func signalIgnorePipe() {}
