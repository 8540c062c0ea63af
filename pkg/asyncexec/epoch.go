package asyncexec

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ParallelMode controls how record processing and non-record actions
// interleave across epoch boundaries.
type ParallelMode int

const (
	// SerialBetweenEpoch delays a non-record action until every record of
	// prior epochs has been disposed. This is the only implemented mode.
	SerialBetweenEpoch ParallelMode = iota
	// ParallelBetweenEpoch is a named placeholder with no implemented
	// algorithm. Requesting it is a contract violation.
	ParallelBetweenEpoch
)

type epochStatus int

const (
	epochOpen epochStatus = iota
	epochClosed
	epochFinished
)

// Epoch is a logical generation boundary separating a batch of records from
// a following non-record action such as a checkpoint barrier.
type Epoch struct {
	id                 int64
	ongoingRecordCount int
	status             epochStatus
	triggerAction      func()
	finalAction        func()
}

func (e *Epoch) ID() int64 { return e.id }

// OngoingRecordCount is the number of records created under this epoch that
// have not been disposed yet.
func (e *Epoch) OngoingRecordCount() int { return e.ongoingRecordCount }

// EpochManager tracks record/non-record generation boundaries and the
// outstanding record count per epoch. Touched only from the execution
// thread; the active epoch id is additionally published for observability.
type EpochManager struct {
	active      *Epoch
	outstanding map[int64]*Epoch
	nextEpochID int64
	activeID    atomic.Int64

	// drainer is the controller's cooperative draining mechanism; the
	// manager never blocks by itself.
	drainer func()

	logger *slog.Logger
}

func NewEpochManager(drainer func(), logger *slog.Logger) *EpochManager {
	manager := &EpochManager{
		outstanding: make(map[int64]*Epoch),
		drainer:     drainer,
		logger:      logger.With("module", "epoch_manager"),
	}
	manager.openNextEpoch()

	return manager
}

// OnRecord registers one record under the current epoch and returns it.
func (m *EpochManager) OnRecord() *Epoch {
	m.active.ongoingRecordCount++

	return m.active
}

// OnEpoch registers one record under an existing epoch, for contexts that
// inherit the epoch of their parent instead of opening a fresh reference.
func (m *EpochManager) OnEpoch(epoch *Epoch) *Epoch {
	if epoch.status == epochFinished {
		panic(fmt.Sprintf("asyncexec: record registered under finished epoch %d", epoch.id))
	}

	epoch.ongoingRecordCount++

	return epoch
}

// CompleteOneRecord marks one record of epoch as disposed. When the count
// reaches zero and a non-record action was waiting on the epoch, the action
// runs.
func (m *EpochManager) CompleteOneRecord(epoch *Epoch) {
	epoch.ongoingRecordCount--
	if epoch.ongoingRecordCount < 0 {
		panic(fmt.Sprintf("asyncexec: record count of epoch %d went negative", epoch.id))
	}

	if epoch.ongoingRecordCount == 0 && epoch.status == epochClosed {
		m.finishEpoch(epoch)
	}
}

// OnNonRecord closes the current epoch with the given actions, opens a new
// one, and drains in-flight records through the controller before the
// trigger action runs. Either action may be nil.
func (m *EpochManager) OnNonRecord(triggerAction, finalAction func(), mode ParallelMode) {
	if mode != SerialBetweenEpoch {
		panic("asyncexec: parallel-between-epoch mode has no implemented algorithm")
	}

	closing := m.active
	closing.status = epochClosed
	closing.triggerAction = triggerAction
	closing.finalAction = finalAction

	m.openNextEpoch()

	m.logger.Debug("Closing epoch for non-record action",
		"epoch_id", closing.id,
		"ongoing_records", closing.ongoingRecordCount,
	)

	m.drainer()

	// The drain may already have finished the epoch through
	// CompleteOneRecord.
	if closing.status == epochClosed && closing.ongoingRecordCount == 0 {
		m.finishEpoch(closing)
	}
}

// ActiveEpochID is safe to read from any goroutine.
func (m *EpochManager) ActiveEpochID() int64 {
	return m.activeID.Load()
}

// OutstandingEpochs reports how many epochs still hold undisposed records
// or pending actions.
func (m *EpochManager) OutstandingEpochs() int {
	return len(m.outstanding)
}

func (m *EpochManager) openNextEpoch() {
	epoch := &Epoch{id: m.nextEpochID, status: epochOpen}
	m.nextEpochID++
	m.active = epoch
	m.outstanding[epoch.id] = epoch
	m.activeID.Store(epoch.id)
}

func (m *EpochManager) finishEpoch(epoch *Epoch) {
	epoch.status = epochFinished
	delete(m.outstanding, epoch.id)

	if epoch.triggerAction != nil {
		epoch.triggerAction()
	}

	if epoch.finalAction != nil {
		epoch.finalAction()
	}
}
