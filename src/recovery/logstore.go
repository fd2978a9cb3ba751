package recovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
	"github.com/Blackdeer1524/ariesdb/src/storage/disk"
	"github.com/Blackdeer1524/ariesdb/src/storage/page"
)

const (
	logPageSize = page.PageSize

	// every log page ends with an xxhash64 of the bytes before it
	checksumSize       = 8
	logPagePayloadSize = logPageSize - checksumSize

	masterLogPage uint64 = 0
)

// LogDisk is the part of the disk space manager the log store needs.
// Log pages live in common.LogPartNum.
type LogDisk interface {
	ReadPage(pageNum common.PageNum, dst []byte) error
	WritePage(pageNum common.PageNum, src []byte) error
	AllocPageAt(pageNum common.PageNum) error
	FreePage(pageNum common.PageNum) error
	PageAllocated(pageNum common.PageNum) bool
	SyncPart(part common.PartNum) error
}

type logPage struct {
	index uint64
	data  [logPageSize]byte
	used  int
}

func (p *logPage) seal() {
	sum := xxhash.Checksum64(p.data[:logPagePayloadSize])
	binary.BigEndian.PutUint64(p.data[logPagePayloadSize:], sum)
}

func verifyLogPage(data []byte) bool {
	sum := xxhash.Checksum64(data[:logPagePayloadSize])
	return binary.BigEndian.Uint64(data[logPagePayloadSize:]) == sum
}

// LogStore is an append-only sequence of fixed-size log pages stored in
// the log partition. Appended records stay in memory until a flush
// writes their page; a flushed page is sealed and never appended to
// again. Page 0 holds only the master record.
type LogStore struct {
	disk LogDisk
	log  *zap.SugaredLogger

	mu         sync.Mutex
	tail       []*logPage
	nextPage   uint64
	flushedLSN common.LSN

	metrics *metrics
}

// OpenLogStore prepares the log for appending. The log is truncated at
// the first page that is missing or fails its checksum.
func OpenLogStore(logDisk LogDisk, log *zap.SugaredLogger) (*LogStore, error) {
	s := &LogStore{
		disk:    logDisk,
		log:     log,
		metrics: newMetrics(),
	}

	buf := make([]byte, logPageSize)

	next := masterLogPage + 1
	for {
		pageNum := logPageNum(next)
		if !logDisk.PageAllocated(pageNum) {
			break
		}

		if err := logDisk.ReadPage(pageNum, buf); err != nil {
			return nil, errors.Wrapf(err, "read log page %d", next)
		}

		if !verifyLogPage(buf) {
			log.Warnw("log page failed checksum, truncating log", "page", next)
			break
		}
		next++
	}

	for stale := next; logDisk.PageAllocated(logPageNum(stale)); stale++ {
		if err := logDisk.FreePage(logPageNum(stale)); err != nil {
			return nil, errors.Wrapf(err, "free stale log page %d", stale)
		}
	}

	s.nextPage = next
	s.flushedLSN = common.MaxLSN(next - 1)

	return s, nil
}

func logPageNum(index uint64) common.PageNum {
	return common.VirtualPageNum(common.LogPartNum, index)
}

// IsEmpty reports whether the log has never been initialized.
func (s *LogStore) IsEmpty() bool {
	return !s.disk.PageAllocated(logPageNum(masterLogPage))
}

// Append places the record at the end of the log and assigns its LSN.
// Nothing is written to disk.
func (s *LogStore) Append(record LogRecord) (common.LSN, error) {
	data, err := record.MarshalBinary()
	if err != nil {
		return common.NilLSN, fmt.Errorf("marshal %s: %w", record.Type(), err)
	}

	assert.Assert(
		len(data) <= logPagePayloadSize,
		"log record doesn't fit on a log page: %d bytes",
		len(data),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	var last *logPage
	if len(s.tail) > 0 {
		last = s.tail[len(s.tail)-1]
	}

	if last == nil || last.used+len(data) > logPagePayloadSize {
		last = &logPage{index: s.nextPage}
		s.nextPage++
		s.tail = append(s.tail, last)
	}

	lsn := common.MakeLSN(last.index, last.used)
	copy(last.data[last.used:], data)
	last.used += len(data)

	record.setLSN(lsn)
	s.metrics.recordAppended(record.Type())

	return lsn, nil
}

// Fetch returns the record stored at lsn.
func (s *LogStore) Fetch(lsn common.LSN) (LogRecord, error) {
	data, err := s.pageData(lsn.Page())
	if err != nil {
		return nil, err
	}

	if lsn.Offset() >= logPagePayloadSize {
		return nil, ErrNoSuchRecord
	}

	record, err := readLogRecord(bytes.NewReader(data[lsn.Offset():logPagePayloadSize]))
	if err != nil {
		return nil, fmt.Errorf("fetch %d: %w", lsn, err)
	}

	record.setLSN(lsn)

	return record, nil
}

// pageData returns a private copy of a log page, from the unflushed
// tail if it is still there.
func (s *LogStore) pageData(index uint64) ([]byte, error) {
	data := make([]byte, logPageSize)

	s.mu.Lock()
	for _, p := range s.tail {
		if p.index == index {
			copy(data, p.data[:])
			s.mu.Unlock()

			return data, nil
		}
	}
	s.mu.Unlock()

	pageNum := logPageNum(index)
	if !s.disk.PageAllocated(pageNum) {
		return nil, ErrNoSuchRecord
	}

	if err := s.disk.ReadPage(pageNum, data); err != nil {
		if errors.Is(err, disk.ErrNoSuchPage) {
			return nil, ErrNoSuchRecord
		}

		return nil, errors.Wrapf(err, "read log page %d", index)
	}

	if !verifyLogPage(data) {
		return nil, fmt.Errorf("log page %d: %w", index, ErrCorruptedLogPage)
	}

	return data, nil
}

// FlushToLSN writes every unflushed page up to and including the page
// that holds lsn and syncs the log partition once.
func (s *LogStore) FlushToLSN(lsn common.LSN) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pageIndex := lsn.Page()

	flushed := 0
	for _, p := range s.tail {
		if p.index > pageIndex {
			break
		}

		if err := s.writePageAssumeLocked(p); err != nil {
			return err
		}
		flushed++
	}

	if flushed > 0 {
		if err := s.disk.SyncPart(common.LogPartNum); err != nil {
			return errors.Wrap(err, "sync log")
		}

		s.flushedLSN = max(s.flushedLSN, common.MaxLSN(s.tail[flushed-1].index))
		s.tail = s.tail[flushed:]
		s.metrics.logFlushed(flushed)
	}

	return nil
}

func (s *LogStore) writePageAssumeLocked(p *logPage) error {
	pageNum := logPageNum(p.index)
	if !s.disk.PageAllocated(pageNum) {
		if err := s.disk.AllocPageAt(pageNum); err != nil {
			return errors.Wrapf(err, "alloc log page %d", p.index)
		}
	}

	p.seal()

	if err := s.disk.WritePage(pageNum, p.data[:]); err != nil {
		return errors.Wrapf(err, "write log page %d", p.index)
	}

	return nil
}

// FlushedLSN returns an LSN such that every record at or below it is
// durable.
func (s *LogStore) FlushedLSN() common.LSN {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushedLSN
}

// RewriteMaster replaces the master record and makes it durable at once.
func (s *LogStore) RewriteMaster(master *MasterLogRecord) error {
	data, err := master.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal master record: %w", err)
	}

	p := &logPage{index: masterLogPage}
	copy(p.data[:], data)
	p.used = len(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writePageAssumeLocked(p); err != nil {
		return err
	}

	master.setLSN(common.NilLSN)

	if err := s.disk.SyncPart(common.LogPartNum); err != nil {
		return errors.Wrap(err, "sync master record")
	}

	return nil
}

// Master reads the master record.
func (s *LogStore) Master() (*MasterLogRecord, error) {
	record, err := s.Fetch(common.NilLSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadMasterRecord, err)
	}

	master, ok := record.(*MasterLogRecord)
	if !ok {
		return nil, fmt.Errorf("%w: found %s at LSN 0", ErrBadMasterRecord, record.Type())
	}

	return master, nil
}

// ScanFrom returns a lazy iterator over the records starting at lsn.
func (s *LogStore) ScanFrom(lsn common.LSN) *LogRecordsIter {
	return newLogRecordsIter(s, lsn)
}

// Dump writes a human-readable listing of the log starting at start.
func (s *LogStore) Dump(start common.LSN, w io.Writer) error {
	if master, err := s.Master(); err == nil {
		if _, err := fmt.Fprintf(w, "[%d]: %s\n", master.LSN(), master); err != nil {
			return err
		}
	}

	iter := s.ScanFrom(start)
	for {
		record, err := iter.Next()
		if errors.Is(err, ErrNoSuchRecord) {
			return nil
		} else if err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, "[%d]: %s\n", record.LSN(), record); err != nil {
			return err
		}
	}
}

// Close makes the whole log durable.
func (s *LogStore) Close() error {
	s.mu.Lock()
	var last common.LSN
	if len(s.tail) > 0 {
		last = common.MaxLSN(s.tail[len(s.tail)-1].index)
	}
	s.mu.Unlock()

	if last == common.NilLSN {
		return nil
	}

	return s.FlushToLSN(last)
}
