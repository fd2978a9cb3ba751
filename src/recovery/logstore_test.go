package recovery

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
	"github.com/Blackdeer1524/ariesdb/src/storage/disk"
)

func openTestLogStore(t *testing.T, fs afero.Fs) (*LogStore, *disk.Manager) {
	t.Helper()

	d, err := disk.New(fs, "/db")
	require.NoError(t, err)

	store, err := OpenLogStore(d, zap.NewNop().Sugar())
	require.NoError(t, err)

	return store, d
}

func bigUpdate(txnID common.TxnID, prevLSN common.LSN, fill byte) *UpdatePageLogRecord {
	image := bytes.Repeat([]byte{fill}, 1000)

	return NewUpdatePageLogRecord(
		txnID,
		prevLSN,
		common.VirtualPageNum(1, 0),
		0,
		make([]byte, len(image)),
		image,
	)
}

func collect(t *testing.T, iter *LogRecordsIter) []LogRecord {
	t.Helper()

	var res []LogRecord
	for {
		record, err := iter.Next()
		if errors.Is(err, ErrNoSuchRecord) {
			return res
		}
		require.NoError(t, err)

		res = append(res, record)
	}
}

func TestLogStoreAppendFetch(t *testing.T) {
	store, _ := openTestLogStore(t, afero.NewMemMapFs())
	require.True(t, store.IsEmpty())

	commitLSN, err := store.Append(NewCommitLogRecord(7, common.NilLSN))
	require.NoError(t, err)
	require.Equal(t, common.MakeLSN(1, 0), commitLSN)

	endLSN, err := store.Append(NewTxnEndLogRecord(7, commitLSN))
	require.NoError(t, err)
	require.Equal(t, commitLSN.Page(), endLSN.Page())
	require.Greater(t, endLSN, commitLSN)

	record, err := store.Fetch(endLSN)
	require.NoError(t, err)

	require.IsType(t, &TxnEndLogRecord{}, record)
	require.Equal(t, commitLSN, record.(TxnLogRecord).PrevLSN())
	require.Equal(t, endLSN, record.LSN())

	_, err = store.Fetch(common.MakeLSN(5, 0))
	require.ErrorIs(t, err, ErrNoSuchRecord)
}

func TestLogStoreRecordsSpillToNextPage(t *testing.T) {
	store, _ := openTestLogStore(t, afero.NewMemMapFs())

	var lsns []common.LSN
	for i := range 10 {
		lsn, err := store.Append(bigUpdate(1, common.NilLSN, byte(i)))
		require.NoError(t, err)
		lsns = append(lsns, lsn)
	}

	require.Equal(t, uint64(1), lsns[0].Page())
	require.Greater(t, lsns[len(lsns)-1].Page(), uint64(1))

	records := collect(t, store.ScanFrom(lsns[0]))
	require.Len(t, records, len(lsns))

	for i, record := range records {
		require.Equal(t, lsns[i], record.LSN())
		require.Equal(t, byte(i), record.(*UpdatePageLogRecord).After()[0])
	}
}

func TestLogStoreFlushSealsPage(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, _ := openTestLogStore(t, fs)

	first, err := store.Append(NewAbortLogRecord(1, common.NilLSN))
	require.NoError(t, err)

	require.NoError(t, store.FlushToLSN(first))
	require.GreaterOrEqual(t, store.FlushedLSN(), first)

	second, err := store.Append(NewAbortLogRecord(2, common.NilLSN))
	require.NoError(t, err)
	require.Equal(t, first.Page()+1, second.Page())
	require.Zero(t, second.Offset())

	// flushing an already durable LSN changes nothing
	flushed := store.FlushedLSN()
	require.NoError(t, store.FlushToLSN(first))
	require.Equal(t, flushed, store.FlushedLSN())

	reopened, _ := openTestLogStore(t, fs)

	records := collect(t, reopened.ScanFrom(first))
	require.Len(t, records, 1, "unflushed records are lost on reopen")
	require.Equal(t, first, records[0].LSN())
}

func TestLogStoreTruncatesAtCorruptedPage(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, d := openTestLogStore(t, fs)

	var last common.LSN
	for i := range 12 {
		lsn, err := store.Append(bigUpdate(1, common.NilLSN, byte(i)))
		require.NoError(t, err)
		last = lsn
	}
	require.NoError(t, store.FlushToLSN(last))
	require.GreaterOrEqual(t, last.Page(), uint64(3))

	garbage := bytes.Repeat([]byte{0xFF}, logPageSize)
	require.NoError(t, d.WritePage(logPageNum(2), garbage))

	reopened, d2 := openTestLogStore(t, fs)
	require.False(t, d2.PageAllocated(logPageNum(2)))
	require.False(t, d2.PageAllocated(logPageNum(3)))

	records := collect(t, reopened.ScanFrom(common.MakeLSN(1, 0)))
	for _, record := range records {
		require.Equal(t, uint64(1), record.LSN().Page())
	}
	require.NotEmpty(t, records)

	lsn, err := reopened.Append(NewCommitLogRecord(1, common.NilLSN))
	require.NoError(t, err)
	require.Equal(t, uint64(2), lsn.Page())
}

func TestLogStoreScanStopsAtChecksumMismatch(t *testing.T) {
	store, d := openTestLogStore(t, afero.NewMemMapFs())

	var last common.LSN
	for i := range 8 {
		lsn, err := store.Append(bigUpdate(1, common.NilLSN, byte(i)))
		require.NoError(t, err)
		last = lsn
	}
	require.NoError(t, store.FlushToLSN(last))

	data := make([]byte, logPageSize)
	require.NoError(t, d.ReadPage(logPageNum(2), data))
	data[10] ^= 0xFF
	require.NoError(t, d.WritePage(logPageNum(2), data))

	records := collect(t, store.ScanFrom(common.MakeLSN(1, 0)))
	require.NotEmpty(t, records)
	for _, record := range records {
		require.Equal(t, uint64(1), record.LSN().Page())
	}

	_, err := store.Fetch(common.MakeLSN(2, 0))
	require.ErrorIs(t, err, ErrCorruptedLogPage)
}

func TestLogStoreMaster(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, _ := openTestLogStore(t, fs)

	_, err := store.Master()
	require.ErrorIs(t, err, ErrBadMasterRecord)

	require.NoError(t, store.RewriteMaster(NewMasterLogRecord(common.MakeLSN(3, 17))))
	require.False(t, store.IsEmpty())

	require.NoError(t, store.RewriteMaster(NewMasterLogRecord(common.MakeLSN(4, 0))))

	reopened, _ := openTestLogStore(t, fs)
	master, err := reopened.Master()
	require.NoError(t, err)
	require.Equal(t, common.MakeLSN(4, 0), master.LastCheckpointLSN())
	require.Equal(t, common.NilLSN, master.LSN())
}

func TestLogStoreDump(t *testing.T) {
	store, _ := openTestLogStore(t, afero.NewMemMapFs())
	require.NoError(t, store.RewriteMaster(NewMasterLogRecord(common.NilLSN)))

	commitLSN, err := store.Append(NewCommitLogRecord(3, common.NilLSN))
	require.NoError(t, err)
	_, err = store.Append(NewTxnEndLogRecord(3, commitLSN))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, store.Dump(common.MakeLSN(1, 0), &out))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	require.Contains(t, string(lines[0]), "MASTER")
	require.Contains(t, string(lines[1]), "COMMIT")
	require.Contains(t, string(lines[2]), "END")
}

func TestLogStoreClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, _ := openTestLogStore(t, fs)

	lsn, err := store.Append(NewCommitLogRecord(1, common.NilLSN))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, _ := openTestLogStore(t, fs)
	record, err := reopened.Fetch(lsn)
	require.NoError(t, err)
	require.Equal(t, TypeCommit, record.Type())
}
