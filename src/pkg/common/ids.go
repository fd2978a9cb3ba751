package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type TxnID uint64

const NilTxnID TxnID = 0

type PartNum uint32

// LogPartNum is the partition that holds the write-ahead log. It is
// never handed out to transactions.
const LogPartNum PartNum = 0

// PageNum is a virtual page number: the partition number followed by
// ten decimal digits of page index inside that partition.
type PageNum uint64

const MaxPagesPerPart = 10_000_000_000

func VirtualPageNum(part PartNum, index uint64) PageNum {
	return PageNum(uint64(part)*MaxPagesPerPart + index)
}

func (p PageNum) Part() PartNum {
	//nolint:gosec
	return PartNum(uint64(p) / MaxPagesPerPart)
}

func (p PageNum) Index() uint64 {
	return uint64(p) % MaxPagesPerPart
}

func (p PageNum) String() string {
	return fmt.Sprintf("%d:%d", p.Part(), p.Index())
}

func (p PageNum) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint64(p))

	return buf.Bytes(), nil
}

func (p *PageNum) UnmarshalBinary(data []byte) error {
	rd := bytes.NewReader(data)

	return binary.Read(rd, binary.BigEndian, (*uint64)(p))
}
