//go:build !windows

package service_test

import (
	"os"
	"syscall"
)

var brokenPipeCases = []struct {
	scenario string
	err      error
	want     bool
}{
	{scenario: "EPIPE", err: &os.PathError{Op: "write", Path: "|1", Err: syscall.EPIPE}, want: true},
	{scenario: "EINTR", err: syscall.EINTR, want: false},
}
