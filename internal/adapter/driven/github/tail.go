package github

import "unicode/utf8"

// tailBuffer is an io.Writer that retains only the last max bytes written.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &tailBuffer{max: maxBytes, buf: make([]byte, 0, maxBytes)}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if t.max == 0 {
		return n, nil
	}
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return n, nil
	}
	if overflow := len(t.buf) + len(p) - t.max; overflow > 0 {
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

// String returns the retained bytes, skipping a leading partial UTF-8
// sequence left by truncation.
func (t *tailBuffer) String() string {
	b := t.buf
	for i := 0; i < utf8.UTFMax && len(b) > 0 && !utf8.RuneStart(b[0]); i++ {
		b = b[1:]
	}
	return string(b)
}
