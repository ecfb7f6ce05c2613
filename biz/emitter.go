// Package biz 包含 httpsniffer 的核心业务逻辑，负责协调输入插件、输出插件、过滤器和限流器之间的交互。
package biz

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/consts"
	"github.com/vearne/httpsniffer/filter"
	"github.com/vearne/httpsniffer/plugin"
	slog "github.com/vearne/simplelog"
)

// Emitter 负责把输入插件重组出的 HTTP 交换分发到输出插件。
// 每个交换先经过过滤器链，再经过限流器，最后写入所有输出插件。
type Emitter struct {
	sync.WaitGroup
	plugins     *InOutPlugins // 输入和输出插件的集合
	filterChain filter.Filter // 过滤器链，被过滤掉的交换不会写入任何输出
	limiter     Limiter       // 限流器，可以为 nil
	// 输出失败（consts.ErrSinkFailure）时调用，默认终止进程
	fatal func(format string, args ...interface{})
}

// NewEmitter 创建并初始化一个新的 Emitter 对象。
// 参数 f 是过滤器链；参数 lim 是限流器，为 nil 时不限流。
func NewEmitter(f filter.Filter, lim Limiter) *Emitter {
	var e Emitter
	e.filterChain = f
	e.limiter = lim
	e.fatal = func(format string, args ...interface{}) {
		slog.Fatal(format, args...)
	}
	return &e
}

// Start 为每个输入插件启动一个独立的 goroutine。
// 输入插件返回 plugin.ErrorStopped 后对应的 goroutine 退出，
// 所有输入都结束后 Wait 返回。
func (e *Emitter) Start(plugins *InOutPlugins) {
	e.plugins = plugins
	for _, in := range plugins.Inputs {
		e.Add(1)
		go func(in PluginReader) {
			defer e.Done()
			if err := e.CopyMulty(in, plugins.Outputs...); err != nil {
				slog.Debug("[EMITTER] error during copy: %q", err)
			}
		}(in)
	}
}

// Close 关闭所有插件（如果它们实现了 io.Closer 接口），
// 然后等待输入插件把剩余的交换全部交付。
func (e *Emitter) Close() {
	for _, p := range e.plugins.Inputs {
		if cp, ok := p.(io.Closer); ok {
			cp.Close()
		}
	}
	if len(e.plugins.Inputs) > 0 {
		// wait for everything to stop
		e.Wait()
	}
	for _, p := range e.plugins.Outputs {
		if cp, ok := p.(io.Closer); ok {
			cp.Close()
		}
	}
	e.plugins.Inputs = nil // avoid Close to make changes again
	e.plugins.Outputs = nil
}

// CopyMulty 从一个读取器复制数据到多个写入器：
// 读取交换，经过过滤器链和限流器，写入所有目标写入器。
// 源读取器停止后返回。
func (e *Emitter) CopyMulty(src PluginReader, writers ...PluginWriter) error {
	for {
		ex, err := src.Read()
		if errors.Is(err, plugin.ErrorStopped) {
			return nil
		}
		if err != nil {
			slog.Error("src.Read:%v", err)
			continue
		}
		ex, ok := e.filterChain.Filter(ex)
		if !ok {
			continue
		}

		if e.limiter != nil && !e.limiter.Allow() {
			slog.Debug("rate limited, drop exchange:%v", ex.ID)
			continue
		}

		for _, dst := range writers {
			if err = dst.Write(ex); err != nil {
				if errors.Is(err, consts.ErrSinkFailure) {
					e.fatal("dst.Write:%v", err)
					continue
				}
				slog.Error("dst.Write:%v", err)
			}
		}
	}
}
