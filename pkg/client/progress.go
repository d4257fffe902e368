package client

import "io"

// progressReader reports bytes read to a ProgressFunc.
type progressReader struct {
	reader  io.Reader
	total   int64
	read    int64
	onChunk ProgressFunc
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	return &progressReader{reader: r, total: total, onChunk: fn}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	if n > 0 {
		p.read += int64(n)
		p.onChunk(p.read, p.total)
	}
	return n, err
}
