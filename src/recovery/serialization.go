package recovery

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Blackdeer1524/ariesdb/src/pkg/assert"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

const (
	txnHeaderSize = 8 + 8

	masterRecordSize      = 1 + 8
	commitRecordSize      = 1 + txnHeaderSize
	updateRecordOverhead  = 1 + txnHeaderSize + 8 + 2 + 2 + 2
	compensationOverhead  = 1 + txnHeaderSize + 8 + 1 + 8 + 4 + 2 + 2 + 2
	checkpointEndOverhead = 1 + 2 + 2
	checkpointDPTEntry    = 8 + 8
	checkpointTxnEntry    = 8 + 1 + 8
)

// MaxUpdateImageSize is the largest before/after image an update can
// carry so that both the update and its compensation fit on one log
// page.
const MaxUpdateImageSize = (logPagePayloadSize - compensationOverhead) / 2

// fitsInOneRecord reports whether an end-checkpoint record with the
// given number of entries fits on a single log page.
func fitsInOneRecord(numDPTEntries, numTxnEntries int) bool {
	size := checkpointEndOverhead +
		checkpointDPTEntry*numDPTEntries +
		checkpointTxnEntry*numTxnEntries

	return size <= logPagePayloadSize
}

func checkTag(data []byte, expected LogRecordTypeTag) (*bytes.Reader, error) {
	if len(data) < 1 {
		return nil, errors.New("insufficient data for type tag")
	}

	if data[0] != byte(expected) {
		return nil, fmt.Errorf("invalid type tag for %s: %x", expected, data[0])
	}

	return bytes.NewReader(data[1:]), nil
}

func writeImage(buf *bytes.Buffer, image []byte) error {
	//nolint:gosec
	if err := binary.Write(buf, binary.BigEndian, uint16(len(image))); err != nil {
		return err
	}

	buf.Write(image)

	return nil
}

func readImage(rd *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return nil, err
	}

	image := make([]byte, n)
	if _, err := io.ReadFull(rd, image); err != nil {
		return nil, err
	}

	return image, nil
}

func (h *txnHeader) marshal(buf *bytes.Buffer) error {
	if err := binary.Write(buf, binary.BigEndian, h.txnID); err != nil {
		return err
	}

	return binary.Write(buf, binary.BigEndian, h.prevLSN)
}

func (h *txnHeader) unmarshal(rd *bytes.Reader) error {
	if err := binary.Read(rd, binary.BigEndian, &h.txnID); err != nil {
		return err
	}

	return binary.Read(rd, binary.BigEndian, &h.prevLSN)
}

func (r *MasterLogRecord) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(TypeMaster))

	if err := binary.Write(buf, binary.BigEndian, r.lastCheckpointLSN); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (r *MasterLogRecord) unmarshal(rd *bytes.Reader) error {
	return binary.Read(rd, binary.BigEndian, &r.lastCheckpointLSN)
}

func (r *MasterLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeMaster)
	if err != nil {
		return err
	}

	return r.unmarshal(rd)
}

func (r *AllocPartLogRecord) MarshalBinary() ([]byte, error) {
	return marshalPartRecord(TypeAllocPart, &r.txnHeader, r.partNum)
}

func (r *AllocPartLogRecord) unmarshal(rd *bytes.Reader) error {
	return unmarshalPartRecord(rd, &r.txnHeader, &r.partNum)
}

func (r *AllocPartLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeAllocPart)
	if err != nil {
		return err
	}

	return r.unmarshal(rd)
}

func (r *FreePartLogRecord) MarshalBinary() ([]byte, error) {
	return marshalPartRecord(TypeFreePart, &r.txnHeader, r.partNum)
}

func (r *FreePartLogRecord) unmarshal(rd *bytes.Reader) error {
	return unmarshalPartRecord(rd, &r.txnHeader, &r.partNum)
}

func (r *FreePartLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeFreePart)
	if err != nil {
		return err
	}

	return r.unmarshal(rd)
}

func marshalPartRecord(
	tag LogRecordTypeTag,
	h *txnHeader,
	partNum common.PartNum,
) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(tag))

	if err := h.marshal(buf); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, partNum); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unmarshalPartRecord(
	rd *bytes.Reader,
	h *txnHeader,
	partNum *common.PartNum,
) error {
	if err := h.unmarshal(rd); err != nil {
		return err
	}

	return binary.Read(rd, binary.BigEndian, partNum)
}

func (r *AllocPageLogRecord) MarshalBinary() ([]byte, error) {
	return marshalPageRecord(TypeAllocPage, &r.txnHeader, r.pageNum)
}

func (r *AllocPageLogRecord) unmarshal(rd *bytes.Reader) error {
	return unmarshalPageRecord(rd, &r.txnHeader, &r.pageNum)
}

func (r *AllocPageLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeAllocPage)
	if err != nil {
		return err
	}

	return r.unmarshal(rd)
}

func (r *FreePageLogRecord) MarshalBinary() ([]byte, error) {
	return marshalPageRecord(TypeFreePage, &r.txnHeader, r.pageNum)
}

func (r *FreePageLogRecord) unmarshal(rd *bytes.Reader) error {
	return unmarshalPageRecord(rd, &r.txnHeader, &r.pageNum)
}

func (r *FreePageLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeFreePage)
	if err != nil {
		return err
	}

	return r.unmarshal(rd)
}

func marshalPageRecord(
	tag LogRecordTypeTag,
	h *txnHeader,
	pageNum common.PageNum,
) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(tag))

	if err := h.marshal(buf); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, pageNum); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unmarshalPageRecord(
	rd *bytes.Reader,
	h *txnHeader,
	pageNum *common.PageNum,
) error {
	if err := h.unmarshal(rd); err != nil {
		return err
	}

	return binary.Read(rd, binary.BigEndian, pageNum)
}

func (r *UpdatePageLogRecord) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(TypeUpdatePage))

	if err := r.txnHeader.marshal(buf); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, r.pageNum); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, r.offset); err != nil {
		return nil, err
	}

	if err := writeImage(buf, r.before); err != nil {
		return nil, err
	}

	if err := writeImage(buf, r.after); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (r *UpdatePageLogRecord) unmarshal(rd *bytes.Reader) error {
	if err := r.txnHeader.unmarshal(rd); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &r.pageNum); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &r.offset); err != nil {
		return err
	}

	var err error
	if r.before, err = readImage(rd); err != nil {
		return err
	}

	r.after, err = readImage(rd)

	return err
}

func (r *UpdatePageLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeUpdatePage)
	if err != nil {
		return err
	}

	return r.unmarshal(rd)
}

func marshalTxnStatusRecord(tag LogRecordTypeTag, h *txnHeader) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(tag))

	if err := h.marshal(buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (r *CommitLogRecord) MarshalBinary() ([]byte, error) {
	return marshalTxnStatusRecord(TypeCommit, &r.txnHeader)
}

func (r *CommitLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeCommit)
	if err != nil {
		return err
	}

	return r.txnHeader.unmarshal(rd)
}

func (r *AbortLogRecord) MarshalBinary() ([]byte, error) {
	return marshalTxnStatusRecord(TypeAbort, &r.txnHeader)
}

func (r *AbortLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeAbort)
	if err != nil {
		return err
	}

	return r.txnHeader.unmarshal(rd)
}

func (r *TxnEndLogRecord) MarshalBinary() ([]byte, error) {
	return marshalTxnStatusRecord(TypeTxnEnd, &r.txnHeader)
}

func (r *TxnEndLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeTxnEnd)
	if err != nil {
		return err
	}

	return r.txnHeader.unmarshal(rd)
}

func (r *CheckpointBeginLogRecord) MarshalBinary() ([]byte, error) {
	return []byte{byte(TypeCheckpointBegin)}, nil
}

func (r *CheckpointBeginLogRecord) UnmarshalBinary(data []byte) error {
	_, err := checkTag(data, TypeCheckpointBegin)
	return err
}

func (r *CheckpointEndLogRecord) MarshalBinary() ([]byte, error) {
	assert.Assert(
		fitsInOneRecord(len(r.dirtyPageTable), len(r.txnTable)),
		"end checkpoint record is too big: dpt=%d, txns=%d",
		len(r.dirtyPageTable),
		len(r.txnTable),
	)

	buf := new(bytes.Buffer)
	buf.WriteByte(byte(TypeCheckpointEnd))

	//nolint:gosec
	if err := binary.Write(buf, binary.BigEndian, uint16(len(r.dirtyPageTable))); err != nil {
		return nil, err
	}

	//nolint:gosec
	if err := binary.Write(buf, binary.BigEndian, uint16(len(r.txnTable))); err != nil {
		return nil, err
	}

	for pageNum, recLSN := range r.dirtyPageTable {
		if err := binary.Write(buf, binary.BigEndian, pageNum); err != nil {
			return nil, err
		}

		if err := binary.Write(buf, binary.BigEndian, recLSN); err != nil {
			return nil, err
		}
	}

	for txnID, info := range r.txnTable {
		if err := binary.Write(buf, binary.BigEndian, txnID); err != nil {
			return nil, err
		}

		if err := binary.Write(buf, binary.BigEndian, info.Status); err != nil {
			return nil, err
		}

		if err := binary.Write(buf, binary.BigEndian, info.LastLSN); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (r *CheckpointEndLogRecord) unmarshal(rd *bytes.Reader) error {
	var numDPT, numTxns uint16
	if err := binary.Read(rd, binary.BigEndian, &numDPT); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &numTxns); err != nil {
		return err
	}

	r.dirtyPageTable = make(map[common.PageNum]common.LSN, numDPT)
	for range numDPT {
		var pageNum common.PageNum
		if err := binary.Read(rd, binary.BigEndian, &pageNum); err != nil {
			return err
		}

		var recLSN common.LSN
		if err := binary.Read(rd, binary.BigEndian, &recLSN); err != nil {
			return err
		}

		r.dirtyPageTable[pageNum] = recLSN
	}

	r.txnTable = make(map[common.TxnID]CheckpointTxnInfo, numTxns)
	for range numTxns {
		var txnID common.TxnID
		if err := binary.Read(rd, binary.BigEndian, &txnID); err != nil {
			return err
		}

		var info CheckpointTxnInfo
		if err := binary.Read(rd, binary.BigEndian, &info.Status); err != nil {
			return err
		}

		if err := binary.Read(rd, binary.BigEndian, &info.LastLSN); err != nil {
			return err
		}

		r.txnTable[txnID] = info
	}

	return nil
}

func (r *CheckpointEndLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeCheckpointEnd)
	if err != nil {
		return err
	}

	return r.unmarshal(rd)
}

func (r *CompensationLogRecord) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(TypeCompensation))

	if err := r.txnHeader.marshal(buf); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, r.undoNextLSN); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(r.undone))

	if err := binary.Write(buf, binary.BigEndian, r.pageNum); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, r.partNum); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, r.offset); err != nil {
		return nil, err
	}

	if err := writeImage(buf, r.before); err != nil {
		return nil, err
	}

	if err := writeImage(buf, r.after); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (r *CompensationLogRecord) unmarshal(rd *bytes.Reader) error {
	if err := r.txnHeader.unmarshal(rd); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &r.undoNextLSN); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &r.undone); err != nil {
		return err
	}

	if r.undone < TypeAllocPart || r.undone > TypeFreePage {
		return fmt.Errorf("compensation for a non-undoable record type %d", r.undone)
	}

	if err := binary.Read(rd, binary.BigEndian, &r.pageNum); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &r.partNum); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &r.offset); err != nil {
		return err
	}

	var err error
	if r.before, err = readImage(rd); err != nil {
		return err
	}

	r.after, err = readImage(rd)

	return err
}

func (r *CompensationLogRecord) UnmarshalBinary(data []byte) error {
	rd, err := checkTag(data, TypeCompensation)
	if err != nil {
		return err
	}

	return r.unmarshal(rd)
}

// readLogRecord decodes the record at the reader's position. It returns
// ErrNoSuchRecord when it meets the end-of-page terminator.
func readLogRecord(rd *bytes.Reader) (LogRecord, error) {
	tag, err := rd.ReadByte()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoSuchRecord
	} else if err != nil {
		return nil, err
	}

	var record LogRecord
	switch LogRecordTypeTag(tag) {
	case 0:
		return nil, ErrNoSuchRecord
	case TypeMaster:
		r := &MasterLogRecord{}
		record, err = r, r.unmarshal(rd)
	case TypeAllocPart:
		r := &AllocPartLogRecord{}
		record, err = r, r.unmarshal(rd)
	case TypeFreePart:
		r := &FreePartLogRecord{}
		record, err = r, r.unmarshal(rd)
	case TypeAllocPage:
		r := &AllocPageLogRecord{}
		record, err = r, r.unmarshal(rd)
	case TypeUpdatePage:
		r := &UpdatePageLogRecord{}
		record, err = r, r.unmarshal(rd)
	case TypeFreePage:
		r := &FreePageLogRecord{}
		record, err = r, r.unmarshal(rd)
	case TypeCommit:
		r := &CommitLogRecord{}
		record, err = r, r.txnHeader.unmarshal(rd)
	case TypeAbort:
		r := &AbortLogRecord{}
		record, err = r, r.txnHeader.unmarshal(rd)
	case TypeTxnEnd:
		r := &TxnEndLogRecord{}
		record, err = r, r.txnHeader.unmarshal(rd)
	case TypeCheckpointBegin:
		record = &CheckpointBeginLogRecord{}
	case TypeCheckpointEnd:
		r := &CheckpointEndLogRecord{}
		record, err = r, r.unmarshal(rd)
	case TypeCompensation:
		r := &CompensationLogRecord{}
		record, err = r, r.unmarshal(rd)
	default:
		return nil, fmt.Errorf("%w: unknown log record type tag %d", ErrCorruptedLogPage, tag)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrCorruptedLogPage, LogRecordTypeTag(tag), err)
	}

	return record, nil
}
