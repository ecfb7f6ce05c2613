package plugin

import (
	"sync/atomic"

	"github.com/vearne/httpsniffer/model"
)

// DummyOutput discards every exchange, used to measure capture throughput
type DummyOutput struct {
	count int64
}

// NewDummyOutput constructor for DummyOutput
func NewDummyOutput() (di *DummyOutput) {
	di = new(DummyOutput)

	return
}

func (o *DummyOutput) Write(ex *model.Exchange) error {
	atomic.AddInt64(&o.count, 1)
	return nil
}

// Count is the number of exchanges received so far.
func (o *DummyOutput) Count() int64 {
	return atomic.LoadInt64(&o.count)
}

func (o *DummyOutput) String() string {
	return "Dummy Output"
}
