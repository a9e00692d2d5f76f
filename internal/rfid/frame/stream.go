package frame

import "bytes"

// Stream reassembles frames from an unreliable byte stream. It keeps every
// byte it has not yet consumed and only discards data while hunting for the
// next head byte.
type Stream struct {
	buf       []byte
	strictCRC bool
	dropped   int
}

func NewStream(strictCRC bool) *Stream {
	return &Stream{strictCRC: strictCRC}
}

func (s *Stream) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Buffered returns the bytes not consumed yet.
func (s *Stream) Buffered() []byte { return s.buf }

// Dropped counts bytes skipped during resynchronization.
func (s *Stream) Dropped() int { return s.dropped }

func (s *Stream) Reset() {
	s.buf = s.buf[:0]
}

// Next returns the next complete frame. ok is false when more bytes are needed.
func (s *Stream) Next() (Response, bool) {
	for {
		i := bytes.IndexByte(s.buf, Head)
		if i < 0 {
			s.dropped += len(s.buf)
			s.buf = s.buf[:0]
			return Response{}, false
		}
		if i > 0 {
			s.dropped += i
			s.buf = s.buf[i:]
		}

		n, ok := FrameLen(s.buf)
		if !ok || n > len(s.buf) {
			return Response{}, false
		}

		r, err := Parse(s.buf[:n], s.strictCRC)
		if err != nil {
			// Not a frame after all: skip this head byte and rescan.
			s.dropped++
			s.buf = s.buf[1:]
			continue
		}
		s.buf = s.buf[n:]
		return r, true
	}
}
