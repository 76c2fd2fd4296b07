package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// maxLineSize bounds a single line of server output. Longer lines end the
// piping of that stream with bufio.ErrTooLong.
const maxLineSize = 1024 * 1024

// LineFunc receives one line of server output without its line terminator.
type LineFunc func(ctx context.Context, line string)

// LineWriter returns a LineFunc printing every line to w. Writes are
// serialized, so one writer can be shared by several pipers.
func LineWriter(w io.Writer) LineFunc {
	var mx sync.Mutex
	return func(_ context.Context, line string) {
		mx.Lock()
		defer mx.Unlock()
		_, _ = fmt.Fprintln(w, line)
	}
}

// pipeStream forwards r line by line to sink until EOF or a read error. It
// owns r and closes it on return.
func pipeStream(ctx context.Context, logger *slog.Logger, stream string, r io.ReadCloser, sink LineFunc) {
	defer func() {
		_ = r.Close()
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		sink(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, os.ErrClosed) {
		logger.ErrorContext(ctx, "error reading process output", "stream", stream, "error", err)
	}
}
