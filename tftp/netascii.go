package tftp

import (
	"bytes"
	"io"

	"pack.ag/tftp/netascii"
)

// netasciiSource converts a native byte stream to netascii as the session
// reads it. Every CR becomes CR NUL and every LF becomes CR LF.
type netasciiSource struct {
	pr *io.PipeReader
}

func newNetasciiSource(src io.Reader) *netasciiSource {
	pr, pw := io.Pipe()
	go func() {
		var w io.Writer = netascii.NewWriter(pw)
		_, err := io.Copy(crEscaper{w: w}, src)
		if err == nil {
			if flusher, ok := w.(interface{ Flush() error }); ok {
				err = flusher.Flush()
			}
		}
		pw.CloseWithError(err)
	}()
	return &netasciiSource{pr: pr}
}

// crEscaper writes each CR as CR NUL. The netascii writer leaves an existing
// CR NUL alone, so a native CR LF reaches the wire as CR NUL CR LF.
type crEscaper struct {
	w io.Writer
}

func (e crEscaper) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\r')
		if i < 0 {
			if _, err := e.w.Write(b); err != nil {
				return written, err
			}
			return written + len(b), nil
		}
		if _, err := e.w.Write(b[:i]); err != nil {
			return written, err
		}
		if _, err := e.w.Write([]byte{'\r', 0}); err != nil {
			return written + i, err
		}
		written += i + 1
		b = b[i+1:]
	}
	return written, nil
}

func (s *netasciiSource) Read(b []byte) (int, error) {
	return s.pr.Read(b)
}

// Close stops the encoder. It does not wait for a blocked source read.
func (s *netasciiSource) Close() error {
	return s.pr.Close()
}

// netasciiSink decodes netascii written by the session into dst. Close
// flushes the decoder and reports the first error dst returned.
type netasciiSink struct {
	pw   *io.PipeWriter
	done chan error
}

func newNetasciiSink(dst io.Writer) *netasciiSink {
	pr, pw := io.Pipe()
	s := &netasciiSink{pw: pw, done: make(chan error, 1)}
	go func() {
		var r io.Reader = netascii.NewReader(pr)
		_, err := io.Copy(dst, r)
		pr.CloseWithError(err)
		s.done <- err
	}()
	return s
}

func (s *netasciiSink) Write(b []byte) (int, error) {
	return s.pw.Write(b)
}

func (s *netasciiSink) Close() error {
	s.pw.Close()
	return <-s.done
}
