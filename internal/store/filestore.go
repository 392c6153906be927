// FileStore is the persistent Store backend: a matching
// "<session>.events.dat" / "<session>.index.dat" file pair, opened
// read+write+create+truncate per spec.md §6.
//
// Grounded on xtaci-kcptun/server/config.go's plain os.Open/os.OpenFile
// file-handling idiom (explicit flags, deferred Close, wrapped errors) -
// the teacher itself never persists a log like this (it tunnels bytes, it
// doesn't store them), so the read/commit/index bookkeeping here is new
// code written to spec.md §3/§4.2 in that same idiom.
package store

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// FileStore is a file-backed Store for one session.
type FileStore struct {
	scratch []byte

	messagesFile *os.File
	indexFile    *os.File

	messagesSize int64
	count        uint64
}

// OpenFileStore opens (creating/truncating) the messages and index files
// for session under dir, per spec.md §6's
// "<session>.events.dat"/"<session>.index.dat" naming.
func OpenFileStore(dir, session string) (*FileStore, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	mf, err := os.OpenFile(dir+"/"+session+".events.dat", flags, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "store: open events file")
	}
	idxf, err := os.OpenFile(dir+"/"+session+".index.dat", flags, 0644)
	if err != nil {
		mf.Close()
		return nil, errors.Wrap(err, "store: open index file")
	}
	return &FileStore{
		scratch:      make([]byte, scratchSize),
		messagesFile: mf,
		indexFile:    idxf,
	}, nil
}

func (f *FileStore) Acquire() []byte {
	return f.scratch
}

func (f *FileStore) Commit(lengths []int, index, count int) (uint64, error) {
	total := 0
	for i := 0; i < count; i++ {
		total += 2 + lengths[index+i]
	}

	if _, err := f.messagesFile.Write(f.scratch[:total]); err != nil {
		return 0, errors.Wrap(err, "store: write messages file")
	}

	indexBuf := make([]byte, 8*count)
	off := 0
	for i := 0; i < count; i++ {
		contentOffset := f.messagesSize + int64(off) + 2
		binary.BigEndian.PutUint64(indexBuf[8*i:8*i+8], uint64(contentOffset))
		off += 2 + lengths[index+i]
	}
	if _, err := f.indexFile.Write(indexBuf); err != nil {
		return 0, errors.Wrap(err, "store: write index file")
	}

	firstSeq := f.count + 1
	f.messagesSize += int64(total)
	f.count += uint64(count)
	return firstSeq, nil
}

func (f *FileStore) Read(dst []byte, dstIndex int, seq uint64) (int, error) {
	if seq < 1 || seq > f.count {
		return 0, ErrOutOfRange
	}

	var entries [2]int64
	n := 1
	readAt := seq - 1
	if seq < f.count {
		n = 2
	}
	buf := make([]byte, 8*n)
	if _, err := f.indexFile.ReadAt(buf, int64(readAt)*8); err != nil {
		return 0, errors.Wrap(err, "store: read index file")
	}
	entries[0] = int64(binary.BigEndian.Uint64(buf[0:8]))
	var end int64
	if n == 2 {
		entries[1] = int64(binary.BigEndian.Uint64(buf[8:16]))
		end = entries[1] - 2
	} else {
		end = f.messagesSize
	}

	length := int(end - entries[0])
	if _, err := f.messagesFile.ReadAt(dst[dstIndex:dstIndex+length], entries[0]); err != nil {
		return 0, errors.Wrap(err, "store: read messages file")
	}
	return length, nil
}

func (f *FileStore) Count() uint64 {
	return f.count
}

func (f *FileStore) Close() error {
	err1 := f.messagesFile.Close()
	err2 := f.indexFile.Close()
	if err1 != nil {
		return errors.Wrap(err1, "store: close events file")
	}
	if err2 != nil {
		return errors.Wrap(err2, "store: close index file")
	}
	return nil
}
