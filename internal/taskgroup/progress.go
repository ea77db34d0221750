package taskgroup

import (
	"sync/atomic"

	"github.com/torfstack/smog/internal/logging"
)

type Progress struct {
	total int64
	done  atomic.Int64
}

func NewProgress(total int) *Progress {
	return &Progress{total: int64(total)}
}

// Step counts one started task and logs msg with the running count.
func (p *Progress) Step(msg string) {
	n := p.done.Add(1)
	logging.Infof("%s [%d/%d]", msg, n, p.total)
}

func (p *Progress) Done() int {
	return int(p.done.Load())
}
