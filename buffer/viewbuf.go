package buffer

// ViewBuffer is a zero-copy, read-only window over a byte slice the
// caller still owns, generalized from ZLToolKit's BufferOffset
// (original_source/ZLToolKit/src/Network/Buffer.h), which lets one large
// receive block be handed out as several independent read cursors
// without copying. Skip/Next only move an offset; the backing slice is
// never mutated or reallocated.
type ViewBuffer struct {
	data []byte
	off  int
}

// NewView wraps data as a ViewBuffer starting at offset 0.
func NewView(data []byte) *ViewBuffer {
	return &ViewBuffer{data: data}
}

// Len returns the number of unread bytes.
func (v *ViewBuffer) Len() int { return len(v.data) - v.off }

// Peek returns the next n bytes without advancing the view.
func (v *ViewBuffer) Peek(n int) ([]byte, error) {
	if n < 0 || v.Len() < n {
		return nil, ErrNoEnoughData
	}
	return v.data[v.off : v.off+n], nil
}

// Skip advances the view by n bytes.
func (v *ViewBuffer) Skip(n int) error {
	if n < 0 || v.Len() < n {
		return ErrNoEnoughData
	}
	v.off += n
	return nil
}

// Next returns and consumes the next n bytes.
func (v *ViewBuffer) Next(n int) ([]byte, error) {
	b, err := v.Peek(n)
	if err != nil {
		return nil, err
	}
	v.off += n
	return b, nil
}

// Read copies into p and advances by the number of bytes copied.
func (v *ViewBuffer) Read(p []byte) (int, error) {
	n := len(p)
	if v.Len() < n {
		n = v.Len()
	}
	copy(p[:n], v.data[v.off:v.off+n])
	v.off += n
	return n, nil
}

// Release is a no-op: ViewBuffer never owns its backing slice.
func (v *ViewBuffer) Release() {}
