package executor

import (
	"bytes"
	"io"
)

// LimitedBuffer keeps the first Max bytes written and counts the rest.
// Writes never fail, so a chatty program is not killed by SIGPIPE.
type LimitedBuffer struct {
	buf       bytes.Buffer
	Max       int64
	truncated bool
	discarded int64
}

var _ io.Writer = (*LimitedBuffer)(nil)

func NewLimitedBuffer(max int64) *LimitedBuffer {
	if max <= 0 {
		max = 64 << 10
	}
	return &LimitedBuffer{Max: max}
}

func (lb *LimitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := lb.Max - int64(lb.buf.Len())
	if remaining <= 0 {
		lb.truncated = true
		lb.discarded += int64(n)
		return n, nil
	}
	if int64(n) > remaining {
		lb.truncated = true
		lb.discarded += int64(n) - remaining
		p = p[:remaining]
	}
	lb.buf.Write(p)
	return n, nil
}

func (lb *LimitedBuffer) String() string {
	if !lb.truncated {
		return lb.buf.String()
	}
	return lb.buf.String() + "\n[output truncated]"
}

func (lb *LimitedBuffer) Truncated() bool { return lb.truncated }

func (lb *LimitedBuffer) Discarded() int64 { return lb.discarded }
