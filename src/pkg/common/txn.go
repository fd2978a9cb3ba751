package common

type TxnStatus byte

const (
	TxnStatusRunning TxnStatus = iota
	TxnStatusCommitting
	TxnStatusAborting
	TxnStatusComplete
	TxnStatusRecoveryAborting
)

func (s TxnStatus) String() string {
	switch s {
	case TxnStatusRunning:
		return "RUNNING"
	case TxnStatusCommitting:
		return "COMMITTING"
	case TxnStatusAborting:
		return "ABORTING"
	case TxnStatusComplete:
		return "COMPLETE"
	case TxnStatusRecoveryAborting:
		return "RECOVERY_ABORTING"
	default:
		return "UNKNOWN"
	}
}

// Transaction is the view of a transaction the recovery manager needs.
// Status transitions are driven by the recovery manager; Cleanup
// releases whatever the transaction holds (locks, handles) and is
// called exactly once before the transaction is marked complete.
type Transaction interface {
	ID() TxnID
	Status() TxnStatus
	SetStatus(status TxnStatus)
	Cleanup()
}

// TransactionFactory recreates a transaction object for an id found in
// the log during restart.
type TransactionFactory func(txnID TxnID) Transaction
