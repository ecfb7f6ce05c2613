package filter

import (
	"github.com/vearne/httpsniffer/model"
	slog "github.com/vearne/simplelog"
)

// IncompleteFilter drops exchanges where either message was cut short,
// e.g. flushed from an expired or reset flow.
type IncompleteFilter struct{}

func NewIncompleteFilter() *IncompleteFilter {
	return &IncompleteFilter{}
}

func (f *IncompleteFilter) Filter(ex *model.Exchange) (*model.Exchange, bool) {
	if ex.Finished() {
		return ex, true
	}
	slog.Info("drop incomplete exchange:%v, %v %v%v, complete:%v, malformed:%v",
		ex.ID, ex.Method, ex.Host, ex.URL, ex.Complete, ex.Malformed)
	return nil, false
}
