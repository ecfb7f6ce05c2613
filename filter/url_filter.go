package filter

import (
	"regexp"

	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/model"
)

// URLMatchIncludeFilter passes exchanges whose Host+URL matches expr.
type URLMatchIncludeFilter struct {
	r *regexp.Regexp
}

func NewURLMatchIncludeFilter(expr string) (*URLMatchIncludeFilter, error) {
	var f URLMatchIncludeFilter
	var err error
	f.r, err = regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "include url expr %q", expr)
	}
	return &f, nil
}

// Filter :If ok is true, it means that the exchange can pass
func (f *URLMatchIncludeFilter) Filter(ex *model.Exchange) (*model.Exchange, bool) {
	if f.r.MatchString(ex.Subject()) {
		return ex, true
	}
	return nil, false
}

// URLMatchExcludeFilter drops exchanges whose Host+URL matches expr.
type URLMatchExcludeFilter struct {
	r *regexp.Regexp
}

func NewURLMatchExcludeFilter(expr string) (*URLMatchExcludeFilter, error) {
	var f URLMatchExcludeFilter
	var err error
	f.r, err = regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "exclude url expr %q", expr)
	}
	return &f, nil
}

func (f *URLMatchExcludeFilter) Filter(ex *model.Exchange) (*model.Exchange, bool) {
	if f.r.MatchString(ex.Subject()) {
		return nil, false
	}
	return ex, true
}
