package biz

import (
	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/config"
	"github.com/vearne/httpsniffer/filter"
)

func NewFilterChain(settings *config.AppSettings) (filter.Filter, error) {
	c := filter.NewFilterChain()

	if len(settings.IncludeFilterURLMatch) > 0 {
		f, err := filter.NewURLMatchIncludeFilter(settings.IncludeFilterURLMatch)
		if err != nil {
			return nil, errors.Wrap(err, "include-filter-url-match")
		}
		c.AddIncludeFilter(f)
	}

	if len(settings.ExcludeFilterURLMatch) > 0 {
		f, err := filter.NewURLMatchExcludeFilter(settings.ExcludeFilterURLMatch)
		if err != nil {
			return nil, errors.Wrap(err, "exclude-filter-url-match")
		}
		c.AddExcludeFilters(f)
	}

	if !settings.InputRAWAllowIncomplete {
		c.AddExcludeFilters(filter.NewIncompleteFilter())
	}
	return c, nil
}
