package recovery

import "errors"

var (
	// ErrNoSuchRecord reports an expected absence: the end of the log or
	// an LSN that was never written.
	ErrNoSuchRecord = errors.New("no such log record")

	// ErrCorruptedLogPage is returned when a log page fails its checksum
	// or holds bytes that don't decode. Scans treat it as the end of the
	// log.
	ErrCorruptedLogPage = errors.New("corrupted log page")

	ErrBadMasterRecord = errors.New("bad master record")
)
