// Package service implements supervision of a single long-running server
// process.
//
// Overview
// The Router owns an event loop fed by a channel of Intents. It is the only
// goroutine touching the Supervisor, so the Supervisor needs no locking.
// Producers (the operator console, the restart scheduler) only send Intents.
//
// The Supervisor owns at most one Process:
//   - Start stops the previous process, then spawns the executable in the
//     directory containing it, with stdin, stdout and stderr piped
//   - Stop writes the exit command to stdin, waits up to the grace period and
//     kills the process if it is still running
//   - SendCommand writes one line to stdin
//   - PipeOutput starts a piper goroutine per output stream
//
// Data flow:
//
//	console/scheduler       Router{loop}          Supervisor            Process
//	       |                    |                     |                    |
//	Intent ------chan---------->| handle()            |                    |
//	       |                    | Stop/Start -------->| Spawn ------------>| os/exec
//	       |                    | PipeOutput -------->| pipeStream <-------| stdout, stderr
//	       |                    | SendCommand ------->| write line ------->| stdin
//	       |                    | Exit: Stop, Wait -->|                    |
//
// Invariants:
//   - At most one Process is live; Restart and UpdatePath are Stop then Start.
//   - Intents are handled one at a time in channel order. Stop blocks the
//     loop for up to the grace period, further intents queue meanwhile.
//   - Stop never fails; afterwards the Supervisor holds no process.
//   - Pipers share no state and end on EOF or on the first read error.
//
// internal/service/router_test.go shows how the pieces are wired together.
package service
