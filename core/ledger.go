package core

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Ledger is the in-memory, ordered chain of blocks (spec §4.1). It owns
// every stored block and, transitively, every sensor record inside it.
// Operations run under a single coarse-grained mutex; traversal and
// copy-out borrow the same mutex for their duration.
type Ledger struct {
	mu     sync.Mutex
	blocks []Block
	logger *logrus.Logger
}

// NewLedger returns an initialized, empty ledger. Grounded on the teacher's
// core/ledger.go constructor shape, minus WAL/snapshot persistence — the
// core specification carries no persisted state (spec §6).
func NewLedger(logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{blocks: make([]Block, 0), logger: logger}
}

// Deinit releases every block and sensor record and resets the ledger to
// empty. Idempotent with NewLedger.
func (l *Ledger) Deinit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = make([]Block, 0)
}

// Append places block at the tail. When the store is empty the block_num is
// overridden to 0 regardless of the caller's value, anchoring genesis
// locally (spec §4.1); otherwise it is set to last.block_num + 1.
func (l *Ledger) Append(b Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		b.BlockNum = 0
	} else {
		b.BlockNum = l.blocks[len(l.blocks)-1].BlockNum + 1
	}
	l.blocks = append(l.blocks, b)
}

// Insert places block in ascending block_num order, used for backfilling
// historical blocks (spec §4.1). It rejects (returns false, does not
// mutate the store) if a block with the same block_num already exists.
func (l *Ledger) Insert(b Block) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := sort.Search(len(l.blocks), func(i int) bool {
		return l.blocks[i].BlockNum >= b.BlockNum
	})
	if i < len(l.blocks) && l.blocks[i].BlockNum == b.BlockNum {
		l.logger.WithField("height", b.BlockNum).Warn("ledger: reject duplicate block height")
		return false
	}
	l.blocks = append(l.blocks, Block{})
	copy(l.blocks[i+1:], l.blocks[i:])
	l.blocks[i] = b
	return true
}

// GetLast returns a deep copy of the tail block. ok is false when empty.
func (l *Ledger) GetLast() (b Block, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return Block{}, false
	}
	return copyBlock(l.blocks[len(l.blocks)-1]), true
}

// GetByNumber returns a deep copy of the block at height n, if present.
func (l *Ledger) GetByNumber(n uint32) (b Block, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := sort.Search(len(l.blocks), func(i int) bool { return l.blocks[i].BlockNum >= n })
	if i < len(l.blocks) && l.blocks[i].BlockNum == n {
		return copyBlock(l.blocks[i]), true
	}
	return Block{}, false
}

// Len returns the number of stored blocks.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// Iter calls fn with a deep copy of each stored block, head to tail, for
// printing or inspection. fn's return value controls early stop: return
// false to stop iterating.
func (l *Ledger) Iter(fn func(Block) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.blocks {
		if !fn(copyBlock(b)) {
			return
		}
	}
}

// Snapshot returns a deep copy of the full chain, head to tail. Used by the
// control surface's READ_LEDGER command and by tests.
func (l *Ledger) Snapshot() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = copyBlock(b)
	}
	return out
}

func copyBlock(b Block) Block {
	out := b
	out.Sensors = make([]SensorRecord, len(b.Sensors))
	copy(out.Sensors, b.Sensors)
	return out
}
