package nanoweb

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

//------------------------------------------------------------------------------
// Buffer Pool
//------------------------------------------------------------------------------

// bufferPool holds scratch buffers for header blocks and JSON encoding.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer returns buf to the pool. Oversized buffers are dropped so one
// large response does not pin memory.
func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 64<<10 {
		return
	}
	bufferPool.Put(buf)
}

//------------------------------------------------------------------------------
// Chunk Pool
//------------------------------------------------------------------------------

// chunkPool holds DefaultChunkSize read buffers for file streaming.
var chunkPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, DefaultChunkSize)
		return &b
	},
}

// getChunk returns a buffer of exactly size bytes. Only the default size is
// pooled.
func getChunk(size int) *[]byte {
	if size != DefaultChunkSize {
		b := make([]byte, size)
		return &b
	}
	return chunkPool.Get().(*[]byte)
}

func putChunk(b *[]byte) {
	if len(*b) == DefaultChunkSize {
		chunkPool.Put(b)
	}
}

//------------------------------------------------------------------------------
// Connection I/O Pools
//------------------------------------------------------------------------------

var (
	readerPool sync.Pool
	writerPool sync.Pool
)

func getReader(r io.Reader) *bufio.Reader {
	if v := readerPool.Get(); v != nil {
		br := v.(*bufio.Reader)
		br.Reset(r)
		return br
	}
	return bufio.NewReaderSize(r, 4096)
}

func putReader(br *bufio.Reader) {
	br.Reset(nil)
	readerPool.Put(br)
}

func getWriter(w io.Writer) *bufio.Writer {
	if v := writerPool.Get(); v != nil {
		bw := v.(*bufio.Writer)
		bw.Reset(w)
		return bw
	}
	return bufio.NewWriterSize(w, 4096)
}

func putWriter(bw *bufio.Writer) {
	bw.Reset(nil)
	writerPool.Put(bw)
}
