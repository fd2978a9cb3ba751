package common

import "fmt"

// LSN is a log sequence number of the form page*10000 + byte offset on
// that log page. Log pages are never reused, so LSNs only grow.
type LSN uint64

// NilLSN marks the absence of a previous record in a chain. It also
// addresses the master record, which never belongs to a chain.
const NilLSN LSN = 0

const LSNsPerLogPage = 10000

func MakeLSN(logPage uint64, offset int) LSN {
	//nolint:gosec
	return LSN(logPage*LSNsPerLogPage + uint64(offset))
}

// MaxLSN returns the largest LSN that can live on the given log page.
func MaxLSN(logPage uint64) LSN {
	return MakeLSN(logPage, LSNsPerLogPage-1)
}

func (l LSN) Page() uint64 {
	return uint64(l) / LSNsPerLogPage
}

func (l LSN) Offset() int {
	//nolint:gosec
	return int(uint64(l) % LSNsPerLogPage)
}

func (l LSN) IsNil() bool {
	return l == NilLSN
}

func (l LSN) String() string {
	return fmt.Sprintf("%d@%d", l.Page(), l.Offset())
}
