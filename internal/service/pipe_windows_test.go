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
	{scenario: "ERROR_BROKEN_PIPE", err: &os.PathError{Op: "write", Path: "|1", Err: syscall.Errno(109)}, want: true},
	{scenario: "ERROR_NO_DATA", err: &os.PathError{Op: "write", Path: "|1", Err: syscall.Errno(232)}, want: true},
	{scenario: "ERROR_ACCESS_DENIED", err: syscall.Errno(5), want: false},
}
