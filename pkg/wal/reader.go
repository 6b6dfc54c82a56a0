package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
)

type ReaderOptions struct {
	MaxPayload         int  // 单条最大长度
	AllowTruncatedTail bool // 尾部半写时当作 EOF（writer 可能正在写）
	BufferSize         int  // 读缓冲大小
}

// Reader 顺序读 record，off 永远停在最后一条完整 record 之后
type Reader struct {
	f          *os.File
	br         *bufio.Reader
	off        int64
	maxPayload int
	allowTail  bool
	truncated  bool
}

// OpenReader 从 offset 开始顺序读 record
// offset 必须是某条 record 的起始位置（通常来自游标文件）
func OpenReader(path string, offset int64, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64 << 10
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	return &Reader{
		f:          f,
		br:         bufio.NewReaderSize(f, opts.BufferSize),
		off:        offset,
		maxPayload: opts.MaxPayload,
		allowTail:  opts.AllowTruncatedTail,
	}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

// TruncatedTail 最近一次读到了半条 record
func (r *Reader) TruncatedTail() bool { return r.truncated }

// Offset 下一条 record 的起始位置
func (r *Reader) Offset() int64 { return r.off }

// Next 读一条 record；读完返回 io.EOF
func (r *Reader) Next() (payload []byte, nextOffset int64, err error) {
	var hdr [headerSize]byte
	if _, err = io.ReadFull(r.br, hdr[:]); err != nil {
		return nil, r.off, r.short(err, ErrCorruptHeader)
	}
	ln := int(binary.LittleEndian.Uint32(hdr[0:4]))
	crc := binary.LittleEndian.Uint32(hdr[4:8])
	if ln > r.maxPayload {
		return nil, r.off, ErrPayloadTooLarge
	}

	payload = make([]byte, ln)
	if _, err = io.ReadFull(r.br, payload); err != nil {
		return nil, r.off, r.short(err, ErrCorruptPayload)
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return nil, r.off, ErrChecksumMismatch
	}
	r.off += int64(headerSize + ln)
	return payload, r.off, nil
}

// Scan 依次把 record 交给 fn，直到 EOF 或 fn 返回错误
// fn 收到的 next 是这条 record 之后的位置，可直接写游标
func (r *Reader) Scan(fn func(payload []byte, next int64) error) (int, error) {
	n := 0
	for {
		payload, next, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := fn(payload, next); err != nil {
			return n, err
		}
		n++
	}
}

// short 处理读到一半的 record：干净的 EOF 直接返回，半条按 allowTail 决定
func (r *Reader) short(err error, corrupt error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		r.truncated = true
		if r.allowTail {
			return io.EOF
		}
		return corrupt
	}
	return err
}
