package rigid

import "sync"

// Diagnostics receives faults the world recovered from during a step:
// solver faults, CCD budget exhaustion and non-finite bodies. Report is
// called from the stepping goroutine.
type Diagnostics interface {
	Report(err error)
}

type DiagnosticsFunc func(err error)

func (f DiagnosticsFunc) Report(err error) { f(err) }

// FaultLog keeps the most recent Limit reports.
type FaultLog struct {
	Limit int

	mu    sync.Mutex
	errs  []error
	total int
}

func NewFaultLog(limit int) *FaultLog {
	return &FaultLog{Limit: limit}
}

func (l *FaultLog) Report(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	l.errs = append(l.errs, err)
	if l.Limit > 0 && len(l.errs) > l.Limit {
		l.errs = append(l.errs[:0], l.errs[len(l.errs)-l.Limit:]...)
	}
}

// Errors returns a copy of the kept reports, oldest first.
func (l *FaultLog) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

// Total counts every report, including dropped ones.
func (l *FaultLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *FaultLog) Reset() {
	l.mu.Lock()
	l.errs = nil
	l.total = 0
	l.mu.Unlock()
}

type nopDiagnostics struct{}

func (nopDiagnostics) Report(error) {}
