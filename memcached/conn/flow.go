package conn

import (
	"sync/atomic"
)

const (
	flowReading int32 = iota
	flowPaused
	// flowResumePending records a continuation that fired before the pause
	flowResumePending
)

// FlowControl pauses and resumes reading of a connection and signals
// pending delegated writes to the writer goroutine.
type FlowControl struct {
	state      atomic.Int32
	resume     chan struct{}
	writeReady chan struct{}
}

// NewFlowControl creates a flow control in reading state
func NewFlowControl() *FlowControl {
	return &FlowControl{
		resume:     make(chan struct{}, 1),
		writeReady: make(chan struct{}, 1),
	}
}

// PauseReads stops reading, unless a resume already arrived for this pause
func (f *FlowControl) PauseReads() {
	if f.state.CompareAndSwap(flowReading, flowPaused) {
		return
	}
	f.state.CompareAndSwap(flowResumePending, flowReading)
}

// ResumeReads is the continuation handed to the backend. It wakes up a paused
// reader, or records the resume if the reader is not paused yet.
func (f *FlowControl) ResumeReads() {
	for {
		switch f.state.Load() {
		case flowPaused:
			if f.state.CompareAndSwap(flowPaused, flowReading) {
				signal(f.resume)
				return
			}
		case flowReading:
			if f.state.CompareAndSwap(flowReading, flowResumePending) {
				return
			}
		default:
			return
		}
	}
}

// IsPaused reports whether reads are paused
func (f *FlowControl) IsPaused() bool {
	return f.state.Load() == flowPaused
}

// CheckBacklog asks the backend whether it is congested and pauses reads if so.
// check receives the continuation and may invoke it synchronously.
func (f *FlowControl) CheckBacklog(check func(onCleared func()) bool) {
	if check(f.ResumeReads) {
		f.PauseReads()
	}
}

// WaitReadable blocks while reads are paused. It returns false if done was closed.
func (f *FlowControl) WaitReadable(done <-chan struct{}) bool {
	for f.IsPaused() {
		select {
		case <-f.resume:
		case <-done:
			return false
		}
	}
	return true
}

// ResumeWrites signals the writer goroutine that delegated writes are pending
func (f *FlowControl) ResumeWrites() {
	signal(f.writeReady)
}

// WriteReady is signalled by ResumeWrites
func (f *FlowControl) WriteReady() <-chan struct{} {
	return f.writeReady
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
