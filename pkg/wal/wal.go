// Package wal 追加写的本地日志：record = len(4) + crc32(4) + payload，小端
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
)

const (
	headerSize      = 8 // len(4) + crc32(4)
	defaultFilePerm = 0o644
)

// 单条记录上限，防止坏数据把内存吃爆
const DefaultMaxPayload = 4 << 20 // 4MB

var (
	ErrCorruptHeader    = errors.New("wal: corrupt header")
	ErrCorruptPayload   = errors.New("wal: corrupt payload")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("wal: payload too large")
)

type Writer struct {
	f  *os.File
	bw *bufio.Writer
	// 逻辑写入位置，包含还在 bufio 里的部分
	off int64
}

// OpenWrite 打开（或创建）wal 文件用于追加
// 上次进程崩溃留下的半条 record 会先被截掉，保证新 record 从完整边界开始
func OpenWrite(path string, bufSize int) (*Writer, error) {
	if bufSize <= 0 {
		bufSize = 64 << 10
	}
	if _, err := Repair(path); err != nil {
		return nil, fmt.Errorf("wal: repair %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, bw: bufio.NewWriterSize(f, bufSize), off: st.Size()}, nil
}

// Append 写入缓冲区，调用 Flush 后才算持久化
func (w *Writer) Append(payload []byte) error {
	if len(payload) > DefaultMaxPayload {
		return ErrPayloadTooLarge
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(payload))
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	if _, err := w.bw.Write(payload); err != nil {
		return fmt.Errorf("wal: write payload: %w", err)
	}
	w.off += int64(headerSize + len(payload))
	return nil
}

// Sync Append + Flush，返回时 record 已经 fsync
func (w *Writer) Sync(payload []byte) error {
	if err := w.Append(payload); err != nil {
		return err
	}
	return w.Flush()
}

// Flush 缓冲区写入文件并 fsync
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close 前先刷盘
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

func (w *Writer) Offset() int64 { return w.off }

// Reset 清空文件并把偏移归零，调用方需保证此时没有 reader 在读
func (w *Writer) Reset() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	w.off = 0
	return w.f.Sync()
}

// Repair 扫描整个文件，截掉尾部半写的 record，返回截掉的字节数
// 文件不存在视为 no-op；中间出现校验错误说明文件真坏了，直接报错不动数据
func Repair(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	r, err := OpenReader(path, 0, ReaderOptions{AllowTruncatedTail: true})
	if err != nil {
		return 0, err
	}
	_, err = r.Scan(func([]byte, int64) error { return nil })
	good := r.Offset()
	_ = r.Close()
	if err != nil {
		return 0, err
	}
	if good >= st.Size() {
		return 0, nil
	}
	if err := os.Truncate(path, good); err != nil {
		return 0, err
	}
	return st.Size() - good, nil
}
