package log

import (
	"io"
	"sync"
)

type syncWriter struct {
	mtx sync.Mutex
	w   io.Writer
}

func newSyncWriter(w io.Writer) io.Writer {
	return &syncWriter{w: w}
}

func (sw *syncWriter) Write(p []byte) (int, error) {
	sw.mtx.Lock()
	defer sw.mtx.Unlock()
	return sw.w.Write(p)
}
