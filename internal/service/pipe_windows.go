package service

import "syscall"

// pipeClosedErrnos are returned by a write to a pipe without a reader:
// ERROR_BROKEN_PIPE and ERROR_NO_DATA.
var pipeClosedErrnos = []error{syscall.Errno(109), syscall.Errno(232)}
