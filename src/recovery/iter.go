package recovery

import (
	"bytes"
	"errors"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

// LogRecordsIter walks the log forward one page at a time. Only the
// current page is held in memory. A page that is missing, fails its
// checksum or holds undecodable bytes ends the iteration.
type LogRecordsIter struct {
	store *LogStore

	page   uint64
	offset int
	data   []byte
	done   bool
}

func newLogRecordsIter(store *LogStore, start common.LSN) *LogRecordsIter {
	return &LogRecordsIter{
		store:  store,
		page:   start.Page(),
		offset: start.Offset(),
	}
}

// Next returns the next record or ErrNoSuchRecord once the end of the
// log is reached.
func (iter *LogRecordsIter) Next() (LogRecord, error) {
	for !iter.done {
		if iter.data == nil {
			data, err := iter.store.pageData(iter.page)
			if err != nil {
				return nil, iter.stop(err)
			}

			iter.data = data
		}

		if iter.offset < logPagePayloadSize {
			rd := bytes.NewReader(iter.data[iter.offset:logPagePayloadSize])

			record, err := readLogRecord(rd)
			if err == nil {
				record.setLSN(common.MakeLSN(iter.page, iter.offset))
				iter.offset = logPagePayloadSize - rd.Len()

				return record, nil
			}

			if !errors.Is(err, ErrNoSuchRecord) {
				return nil, iter.stop(err)
			}
		}

		iter.page++
		iter.offset = 0
		iter.data = nil
	}

	return nil, ErrNoSuchRecord
}

func (iter *LogRecordsIter) stop(err error) error {
	if errors.Is(err, ErrCorruptedLogPage) {
		iter.store.log.Warnw(
			"log scan stopped at a corrupted page",
			"page", iter.page,
			"offset", iter.offset,
			"err", err,
		)

		err = ErrNoSuchRecord
	}

	if errors.Is(err, ErrNoSuchRecord) {
		iter.done = true
	}

	return err
}

// Location returns the LSN the next call to Next will try to read.
func (iter *LogRecordsIter) Location() common.LSN {
	return common.MakeLSN(iter.page, iter.offset)
}
