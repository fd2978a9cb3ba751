package recovery

import (
	"encoding"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

type LogRecordTypeTag byte

// Type tags for each log record type. A zero byte on a log page means
// there are no more records on it.
const (
	TypeMaster LogRecordTypeTag = iota + 1
	TypeAllocPart
	TypeFreePart
	TypeAllocPage
	TypeUpdatePage
	TypeFreePage
	TypeCommit
	TypeAbort
	TypeTxnEnd
	TypeCheckpointBegin
	TypeCheckpointEnd
	TypeCompensation
	TypeUnknown
)

func (t LogRecordTypeTag) String() string {
	switch t {
	case TypeMaster:
		return "MASTER"
	case TypeAllocPart:
		return "ALLOC_PART"
	case TypeFreePart:
		return "FREE_PART"
	case TypeAllocPage:
		return "ALLOC_PAGE"
	case TypeUpdatePage:
		return "UPDATE_PAGE"
	case TypeFreePage:
		return "FREE_PAGE"
	case TypeCommit:
		return "COMMIT"
	case TypeAbort:
		return "ABORT"
	case TypeTxnEnd:
		return "END"
	case TypeCheckpointBegin:
		return "BEGIN_CHECKPOINT"
	case TypeCheckpointEnd:
		return "END_CHECKPOINT"
	case TypeCompensation:
		return "CLR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// LogRecord is implemented only by the record types of this package.
type LogRecord interface {
	encoding.BinaryMarshaler
	fmt.Stringer

	Type() LogRecordTypeTag
	LSN() common.LSN
	setLSN(lsn common.LSN)
}

// TxnLogRecord is a record that belongs to a transaction's prevLSN chain.
type TxnLogRecord interface {
	LogRecord

	TxnID() common.TxnID
	PrevLSN() common.LSN
}

type baseRecord struct {
	lsn common.LSN
}

func (r *baseRecord) LSN() common.LSN {
	return r.lsn
}

func (r *baseRecord) setLSN(lsn common.LSN) {
	r.lsn = lsn
}

type txnHeader struct {
	baseRecord

	txnID   common.TxnID
	prevLSN common.LSN
}

func (h *txnHeader) TxnID() common.TxnID {
	return h.txnID
}

func (h *txnHeader) PrevLSN() common.LSN {
	return h.prevLSN
}

func (h *txnHeader) String() string {
	return fmt.Sprintf("txn=%d prev=%d", h.txnID, h.prevLSN)
}

// MasterLogRecord is the only record that is rewritten in place. It
// always lives at LSN 0.
type MasterLogRecord struct {
	baseRecord

	lastCheckpointLSN common.LSN
}

func NewMasterLogRecord(lastCheckpointLSN common.LSN) *MasterLogRecord {
	return &MasterLogRecord{lastCheckpointLSN: lastCheckpointLSN}
}

func (r *MasterLogRecord) Type() LogRecordTypeTag {
	return TypeMaster
}

func (r *MasterLogRecord) LastCheckpointLSN() common.LSN {
	return r.lastCheckpointLSN
}

func (r *MasterLogRecord) String() string {
	return fmt.Sprintf("%s checkpoint=%d", r.Type(), r.lastCheckpointLSN)
}

type AllocPartLogRecord struct {
	txnHeader

	partNum common.PartNum
}

func NewAllocPartLogRecord(
	txnID common.TxnID,
	prevLSN common.LSN,
	partNum common.PartNum,
) *AllocPartLogRecord {
	return &AllocPartLogRecord{
		txnHeader: txnHeader{txnID: txnID, prevLSN: prevLSN},
		partNum:   partNum,
	}
}

func (r *AllocPartLogRecord) Type() LogRecordTypeTag {
	return TypeAllocPart
}

func (r *AllocPartLogRecord) PartNum() common.PartNum {
	return r.partNum
}

func (r *AllocPartLogRecord) String() string {
	return fmt.Sprintf("%s %s part=%d", r.Type(), r.txnHeader.String(), r.partNum)
}

type FreePartLogRecord struct {
	txnHeader

	partNum common.PartNum
}

func NewFreePartLogRecord(
	txnID common.TxnID,
	prevLSN common.LSN,
	partNum common.PartNum,
) *FreePartLogRecord {
	return &FreePartLogRecord{
		txnHeader: txnHeader{txnID: txnID, prevLSN: prevLSN},
		partNum:   partNum,
	}
}

func (r *FreePartLogRecord) Type() LogRecordTypeTag {
	return TypeFreePart
}

func (r *FreePartLogRecord) PartNum() common.PartNum {
	return r.partNum
}

func (r *FreePartLogRecord) String() string {
	return fmt.Sprintf("%s %s part=%d", r.Type(), r.txnHeader.String(), r.partNum)
}

type AllocPageLogRecord struct {
	txnHeader

	pageNum common.PageNum
}

func NewAllocPageLogRecord(
	txnID common.TxnID,
	prevLSN common.LSN,
	pageNum common.PageNum,
) *AllocPageLogRecord {
	return &AllocPageLogRecord{
		txnHeader: txnHeader{txnID: txnID, prevLSN: prevLSN},
		pageNum:   pageNum,
	}
}

func (r *AllocPageLogRecord) Type() LogRecordTypeTag {
	return TypeAllocPage
}

func (r *AllocPageLogRecord) PageNum() common.PageNum {
	return r.pageNum
}

func (r *AllocPageLogRecord) String() string {
	return fmt.Sprintf("%s %s page=%v", r.Type(), r.txnHeader.String(), r.pageNum)
}

type FreePageLogRecord struct {
	txnHeader

	pageNum common.PageNum
}

func NewFreePageLogRecord(
	txnID common.TxnID,
	prevLSN common.LSN,
	pageNum common.PageNum,
) *FreePageLogRecord {
	return &FreePageLogRecord{
		txnHeader: txnHeader{txnID: txnID, prevLSN: prevLSN},
		pageNum:   pageNum,
	}
}

func (r *FreePageLogRecord) Type() LogRecordTypeTag {
	return TypeFreePage
}

func (r *FreePageLogRecord) PageNum() common.PageNum {
	return r.pageNum
}

func (r *FreePageLogRecord) String() string {
	return fmt.Sprintf("%s %s page=%v", r.Type(), r.txnHeader.String(), r.pageNum)
}

// UpdatePageLogRecord describes a byte-range overwrite inside a data
// page. Both images have the same length.
type UpdatePageLogRecord struct {
	txnHeader

	pageNum common.PageNum
	offset  uint16
	before  []byte
	after   []byte
}

func NewUpdatePageLogRecord(
	txnID common.TxnID,
	prevLSN common.LSN,
	pageNum common.PageNum,
	offset uint16,
	before []byte,
	after []byte,
) *UpdatePageLogRecord {
	return &UpdatePageLogRecord{
		txnHeader: txnHeader{txnID: txnID, prevLSN: prevLSN},
		pageNum:   pageNum,
		offset:    offset,
		before:    before,
		after:     after,
	}
}

func (r *UpdatePageLogRecord) Type() LogRecordTypeTag {
	return TypeUpdatePage
}

func (r *UpdatePageLogRecord) PageNum() common.PageNum {
	return r.pageNum
}

func (r *UpdatePageLogRecord) Offset() uint16 {
	return r.offset
}

func (r *UpdatePageLogRecord) Before() []byte {
	return r.before
}

func (r *UpdatePageLogRecord) After() []byte {
	return r.after
}

func (r *UpdatePageLogRecord) String() string {
	return fmt.Sprintf(
		"%s %s page=%v offset=%d before=%x after=%x",
		r.Type(),
		r.txnHeader.String(),
		r.pageNum,
		r.offset,
		r.before,
		r.after,
	)
}

type CommitLogRecord struct {
	txnHeader
}

func NewCommitLogRecord(txnID common.TxnID, prevLSN common.LSN) *CommitLogRecord {
	return &CommitLogRecord{txnHeader{txnID: txnID, prevLSN: prevLSN}}
}

func (r *CommitLogRecord) Type() LogRecordTypeTag {
	return TypeCommit
}

func (r *CommitLogRecord) String() string {
	return fmt.Sprintf("%s %s", r.Type(), r.txnHeader.String())
}

type AbortLogRecord struct {
	txnHeader
}

func NewAbortLogRecord(txnID common.TxnID, prevLSN common.LSN) *AbortLogRecord {
	return &AbortLogRecord{txnHeader{txnID: txnID, prevLSN: prevLSN}}
}

func (r *AbortLogRecord) Type() LogRecordTypeTag {
	return TypeAbort
}

func (r *AbortLogRecord) String() string {
	return fmt.Sprintf("%s %s", r.Type(), r.txnHeader.String())
}

type TxnEndLogRecord struct {
	txnHeader
}

func NewTxnEndLogRecord(txnID common.TxnID, prevLSN common.LSN) *TxnEndLogRecord {
	return &TxnEndLogRecord{txnHeader{txnID: txnID, prevLSN: prevLSN}}
}

func (r *TxnEndLogRecord) Type() LogRecordTypeTag {
	return TypeTxnEnd
}

func (r *TxnEndLogRecord) String() string {
	return fmt.Sprintf("%s %s", r.Type(), r.txnHeader.String())
}

type CheckpointBeginLogRecord struct {
	baseRecord
}

func NewCheckpointBeginLogRecord() *CheckpointBeginLogRecord {
	return &CheckpointBeginLogRecord{}
}

func (r *CheckpointBeginLogRecord) Type() LogRecordTypeTag {
	return TypeCheckpointBegin
}

func (r *CheckpointBeginLogRecord) String() string {
	return r.Type().String()
}

type CheckpointTxnInfo struct {
	Status  common.TxnStatus
	LastLSN common.LSN
}

// CheckpointEndLogRecord carries one chunk of the dirty page table and
// the transaction table. A checkpoint may span several of them.
type CheckpointEndLogRecord struct {
	baseRecord

	dirtyPageTable map[common.PageNum]common.LSN
	txnTable       map[common.TxnID]CheckpointTxnInfo
}

func NewCheckpointEndLogRecord(
	dirtyPageTable map[common.PageNum]common.LSN,
	txnTable map[common.TxnID]CheckpointTxnInfo,
) *CheckpointEndLogRecord {
	return &CheckpointEndLogRecord{
		dirtyPageTable: dirtyPageTable,
		txnTable:       txnTable,
	}
}

func (r *CheckpointEndLogRecord) Type() LogRecordTypeTag {
	return TypeCheckpointEnd
}

func (r *CheckpointEndLogRecord) DirtyPageTable() map[common.PageNum]common.LSN {
	return r.dirtyPageTable
}

func (r *CheckpointEndLogRecord) TxnTable() map[common.TxnID]CheckpointTxnInfo {
	return r.txnTable
}

func (r *CheckpointEndLogRecord) String() string {
	b := strings.Builder{}
	b.WriteString(r.Type().String())

	b.WriteString(" dpt=[")
	for i, pageNum := range slices.Sorted(maps.Keys(r.dirtyPageTable)) {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%v:%d", pageNum, r.dirtyPageTable[pageNum])
	}

	b.WriteString("] txns=[")
	for i, txnID := range slices.Sorted(maps.Keys(r.txnTable)) {
		if i > 0 {
			b.WriteString(" ")
		}
		info := r.txnTable[txnID]
		fmt.Fprintf(&b, "%d:%s:%d", txnID, info.Status, info.LastLSN)
	}
	b.WriteString("]")

	return b.String()
}

// CompensationLogRecord records the undo of a single undoable record.
// It is redone as the inverse of the undone action and is never undone
// itself. undoNextLSN is the prevLSN of the undone record.
type CompensationLogRecord struct {
	txnHeader

	undoNextLSN common.LSN
	undone      LogRecordTypeTag

	pageNum common.PageNum
	partNum common.PartNum
	offset  uint16

	// before is the image being overwritten, after is the restored one.
	before []byte
	after  []byte
}

func (r *CompensationLogRecord) Type() LogRecordTypeTag {
	return TypeCompensation
}

func (r *CompensationLogRecord) UndoNextLSN() common.LSN {
	return r.undoNextLSN
}

// Undone returns the type of the record this CLR compensates.
func (r *CompensationLogRecord) Undone() LogRecordTypeTag {
	return r.undone
}

func (r *CompensationLogRecord) PageNum() common.PageNum {
	return r.pageNum
}

func (r *CompensationLogRecord) PartNum() common.PartNum {
	return r.partNum
}

func (r *CompensationLogRecord) Offset() uint16 {
	return r.offset
}

func (r *CompensationLogRecord) After() []byte {
	return r.after
}

func (r *CompensationLogRecord) String() string {
	b := strings.Builder{}
	fmt.Fprintf(
		&b,
		"%s(%s) %s undoNext=%d",
		r.Type(),
		r.undone,
		r.txnHeader.String(),
		r.undoNextLSN,
	)

	switch r.undone {
	case TypeAllocPart, TypeFreePart:
		fmt.Fprintf(&b, " part=%d", r.partNum)
	case TypeAllocPage, TypeFreePage:
		fmt.Fprintf(&b, " page=%v", r.pageNum)
	case TypeUpdatePage:
		fmt.Fprintf(
			&b,
			" page=%v offset=%d before=%x after=%x",
			r.pageNum,
			r.offset,
			r.before,
			r.after,
		)
	}

	return b.String()
}

var (
	_ LogRecord    = &MasterLogRecord{}
	_ TxnLogRecord = &AllocPartLogRecord{}
	_ TxnLogRecord = &FreePartLogRecord{}
	_ TxnLogRecord = &AllocPageLogRecord{}
	_ TxnLogRecord = &FreePageLogRecord{}
	_ TxnLogRecord = &UpdatePageLogRecord{}
	_ TxnLogRecord = &CommitLogRecord{}
	_ TxnLogRecord = &AbortLogRecord{}
	_ TxnLogRecord = &TxnEndLogRecord{}
	_ LogRecord    = &CheckpointBeginLogRecord{}
	_ LogRecord    = &CheckpointEndLogRecord{}
	_ TxnLogRecord = &CompensationLogRecord{}
)
