//go:build !windows

package service

import "syscall"

// pipeClosedErrnos are returned by a write to a pipe without a reader.
var pipeClosedErrnos = []error{syscall.EPIPE}
