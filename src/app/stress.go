package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/panjf2000/ants"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
	"github.com/Blackdeer1524/ariesdb/src/pkg/utils"
	"github.com/Blackdeer1524/ariesdb/src/recovery"
	"github.com/Blackdeer1524/ariesdb/src/txns"
)

// StressPart is the partition the stress workload writes to.
const StressPart common.PartNum = 1

type StressOptions struct {
	Txns        int
	Workers     int
	Pages       int
	PagesPerTxn int
	AbortRatio  float64
	// CheckpointEvery takes a checkpoint after every n submitted
	// transactions. Zero disables it.
	CheckpointEvery int
	Seed            int64
}

func (o StressOptions) Validate() error {
	switch {
	case o.Txns < 0:
		return errors.New("txns must not be negative")
	case o.Workers <= 0:
		return errors.New("workers must be positive")
	case o.Pages <= 0:
		return errors.New("pages must be positive")
	case o.PagesPerTxn <= 0 || o.PagesPerTxn > o.Pages:
		return fmt.Errorf("pages per txn must be in [1, %d]", o.Pages)
	case o.AbortRatio < 0 || o.AbortRatio > 1:
		return errors.New("abort ratio must be in [0, 1]")
	}

	return nil
}

type StressReport struct {
	Committed int
	Aborted   int
	// Died counts the aborted transactions that lost a lock conflict.
	Died int

	// Expected maps every page some committed transaction wrote to the
	// id of the last such transaction, earlier runs included. Each
	// transaction writes its id into the first bytes of the pages it
	// touches.
	Expected map[common.PageNum]common.TxnID
}

type stressState struct {
	mu         sync.Mutex
	report     StressReport
	lastCommit map[common.PageNum]common.LSN
	errs       []error
}

func (s *stressState) committed(txnID common.TxnID, commitLSN common.LSN, pages []common.PageNum) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.Committed++
	for _, pageNum := range pages {
		if commitLSN > s.lastCommit[pageNum] {
			s.lastCommit[pageNum] = commitLSN
			s.report.Expected[pageNum] = txnID
		}
	}
}

func (s *stressState) aborted(died bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.Aborted++
	if died {
		s.report.Died++
	}
}

func (s *stressState) failed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errs = append(s.errs, err)
}

// PrepareStress makes sure the stress partition and its first pages
// exist.
func PrepareStress(db *DB, pages int) error {
	chain := recovery.NewTxnLogChain(db.Recovery).Begin(db.Txns.Begin())

	if !db.Disk.PartAllocated(StressPart) {
		chain.AllocPart(StressPart)
	}

	for i := range pages {
		pageNum := common.VirtualPageNum(StressPart, uint64(i)) //nolint:gosec
		if !db.Disk.PageAllocated(pageNum) {
			chain.AllocPage(pageNum)
		}
	}

	return chain.Commit().TxnEnd().Err()
}

// RunStress runs opts.Txns random transactions on opts.Workers
// goroutines. Transactions lock their pages with wait-die and hold the
// locks until they end.
func RunStress(ctx context.Context, db *DB, opts StressOptions) (StressReport, error) {
	if err := opts.Validate(); err != nil {
		return StressReport{}, err
	}

	if err := PrepareStress(db, opts.Pages); err != nil {
		return StressReport{}, fmt.Errorf("prepare stress partition: %w", err)
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return StressReport{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	state := &stressState{
		report:     StressReport{Expected: map[common.PageNum]common.TxnID{}},
		lastCommit: map[common.PageNum]common.LSN{},
	}

	// pages keep what earlier runs committed until this run overwrites it
	for i := range opts.Pages {
		pageNum := common.VirtualPageNum(StressPart, uint64(i)) //nolint:gosec

		value, err := ReadStressValue(db, pageNum)
		if err != nil {
			return StressReport{}, fmt.Errorf("read page %v: %w", pageNum, err)
		}

		if value != 0 {
			state.report.Expected[pageNum] = value
		}
	}

	var wg sync.WaitGroup
	for i := range opts.Txns {
		if ctx.Err() != nil {
			break
		}

		if opts.CheckpointEvery > 0 && i > 0 && i%opts.CheckpointEvery == 0 {
			if err := db.Checkpoint(ctx); err != nil {
				state.failed(err)
			}
		}

		r := rand.New(rand.NewSource(opts.Seed + int64(i))) //nolint:gosec

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			runStressTxn(db, opts, r, state)
		})
		if err != nil {
			wg.Done()
			state.failed(fmt.Errorf("submit transaction: %w", err))

			break
		}
	}

	wg.Wait()

	db.log.Infow(
		"stress finished",
		"committed", state.report.Committed,
		"aborted", state.report.Aborted,
		"died", state.report.Died,
	)

	return state.report, errors.Join(state.errs...)
}

func runStressTxn(db *DB, opts StressOptions, r *rand.Rand, state *stressState) {
	txn := db.Txns.Begin()
	chain := recovery.NewTxnLogChain(db.Recovery).Begin(txn)

	value := binary.BigEndian.AppendUint64(nil, uint64(txn.ID()))
	indices := utils.GenerateUniqueInts(opts.PagesPerTxn, 0, uint64(opts.Pages-1), r) //nolint:gosec

	died := false
	touched := make([]common.PageNum, 0, len(indices))
	for _, index := range indices {
		pageNum := common.VirtualPageNum(StressPart, index)
		if err := db.Txns.LockPage(txn, pageNum); err != nil {
			died = errors.Is(err, txns.ErrDied)
			break
		}

		chain.Update(pageNum, 0, value)
		touched = append(touched, pageNum)
	}

	if died || r.Float64() < opts.AbortRatio {
		chain.Abort().TxnEnd()
		if err := chain.Err(); err != nil {
			state.failed(fmt.Errorf("txn %d: %w", txn.ID(), err))
			forceEnd(db, txn)

			return
		}

		state.aborted(died)

		return
	}

	chain.Commit()
	commitLSN := chain.Loc()
	chain.TxnEnd()

	if err := chain.Err(); err != nil {
		state.failed(fmt.Errorf("txn %d: %w", txn.ID(), err))
		forceEnd(db, txn)

		return
	}

	state.committed(txn.ID(), commitLSN, touched)
}

// forceEnd finishes a transaction whose chain failed midway so that its
// locks are released.
func forceEnd(db *DB, txn *txns.Transaction) {
	if txn.Status() == common.TxnStatusRunning {
		_, _ = db.Recovery.Abort(txn.ID())
	}

	if txn.Status() != common.TxnStatusComplete {
		_, _ = db.Recovery.End(txn.ID())
	}

	txn.Cleanup()
}

// ReadStressValue returns the id of the transaction whose write the page
// holds, zero for a page nobody committed to.
func ReadStressValue(db *DB, pageNum common.PageNum) (common.TxnID, error) {
	p, err := db.Pool.FetchPage(pageNum)
	if err != nil {
		return 0, err
	}

	p.RLock()
	value := binary.BigEndian.Uint64(p.Read(0, 8))
	p.RUnlock()

	return common.TxnID(value), db.Pool.Unpin(pageNum)
}

// VerifyStress checks that every stress page holds the value of its last
// committed writer.
func VerifyStress(db *DB, pages int, expected map[common.PageNum]common.TxnID) error {
	for i := range pages {
		pageNum := common.VirtualPageNum(StressPart, uint64(i)) //nolint:gosec

		got, err := ReadStressValue(db, pageNum)
		if err != nil {
			return fmt.Errorf("read page %v: %w", pageNum, err)
		}

		if want := expected[pageNum]; got != want {
			return fmt.Errorf("page %v: expected value of txn %d, found %d", pageNum, want, got)
		}
	}

	return nil
}
