package wal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於私鑰、機密檔
	FileModePrivate fs.FileMode = 0600
)

// WAL 以 JSON Lines 格式追加寫入的 Write-Ahead Log
//
// 每筆 Write 都會 fsync，回傳 nil 即代表資料已落盤。
type WAL struct {
	file *os.File
	mu   sync.Mutex
	// 目前檔案中最後一筆完整紀錄的結尾
	size int64
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat wal %s: %w", path, err)
	}
	return &WAL{file: file, size: info.Size()}, nil
}

// Write 寫入一筆資料並刷入硬碟
//
// 寫入失敗時會把檔案截回寫入前的長度，避免留下半筆紀錄。
func (w *WAL) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(line); err != nil {
		_ = w.file.Truncate(w.size)
		return fmt.Errorf("append wal record: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Truncate(w.size)
		return fmt.Errorf("sync wal: %w", err)
	}
	w.size += int64(len(line))
	return nil
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll 從頭依序讀取所有紀錄
// callback 每次收到一筆完整的 JSON，避免一次將所有資料載入記憶體
//
// 當機時最後一筆可能只寫了一半：這段殘缺的尾巴會被截掉，之前的紀錄照常回放。
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek wal: %w", err)
	}

	decoder := json.NewDecoder(w.file)
	var good int64
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncateTail(good)
			}
			return fmt.Errorf("decode wal record at offset %d: %w", good, err)
		}
		if err := callback(bytes.Clone(raw)); err != nil {
			return err
		}
		good = decoder.InputOffset()
	}
	return nil
}

func (w *WAL) truncateTail(offset int64) error {
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate torn wal tail: %w", err)
	}
	w.size = offset
	return w.file.Sync()
}
