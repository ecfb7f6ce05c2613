package biz

import "github.com/vearne/httpsniffer/model"

// PluginReader is an interface for input plugins
type PluginReader interface {
	Read() (ex *model.Exchange, err error)
}

// PluginWriter is an interface for output plugins
type PluginWriter interface {
	Write(ex *model.Exchange) (err error)
}

// Limiter decides whether one more exchange may be written
type Limiter interface {
	Allow() bool
}
