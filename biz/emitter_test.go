package biz

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearne/httpsniffer/config"
	"github.com/vearne/httpsniffer/consts"
	"github.com/vearne/httpsniffer/filter"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/plugin"
)

type testInput struct {
	ch     chan *model.Exchange
	closed bool
}

func newTestInput(list ...*model.Exchange) *testInput {
	in := &testInput{ch: make(chan *model.Exchange, len(list))}
	for _, ex := range list {
		in.ch <- ex
	}
	close(in.ch)
	return in
}

func (in *testInput) Read() (*model.Exchange, error) {
	ex, ok := <-in.ch
	if !ok {
		return nil, plugin.ErrorStopped
	}
	return ex, nil
}

func (in *testInput) Close() error {
	in.closed = true
	return nil
}

type testOutput struct {
	sync.Mutex
	list   []*model.Exchange
	err    error
	closed bool
}

func (o *testOutput) Write(ex *model.Exchange) error {
	o.Lock()
	defer o.Unlock()
	if o.err != nil {
		return o.err
	}
	o.list = append(o.list, ex)
	return nil
}

func (o *testOutput) Close() error {
	o.closed = true
	return nil
}

func exchange(host, url string, finished bool) *model.Exchange {
	ex := model.NewExchange("10.0.0.1:40000", "10.0.0.2:80")
	ex.Host = host
	ex.URL = url
	ex.RawHeader[model.DirRequest] = []byte("GET " + url + " HTTP/1.1\r\n\r\n")
	ex.Complete = [2]bool{true, finished}
	return ex
}

func run(t *testing.T, e *Emitter, in PluginReader, outs ...PluginWriter) {
	t.Helper()
	plugins := &InOutPlugins{Inputs: []PluginReader{in}, Outputs: outs}
	e.Start(plugins)
	e.Wait()
}

func TestEmitter(t *testing.T) {
	in := newTestInput(exchange("a.local", "/1", true), exchange("b.local", "/2", true))
	out1, out2 := &testOutput{}, &testOutput{}

	e := NewEmitter(filter.NewFilterChain(), nil)
	run(t, e, in, out1, out2)
	e.Close()

	assert.Len(t, out1.list, 2)
	assert.Len(t, out2.list, 2)
	assert.True(t, in.closed)
	assert.True(t, out1.closed)
}

func TestEmitterFilterSuppressesOutput(t *testing.T) {
	settings := &config.AppSettings{
		IncludeFilterURLMatch:   `^api\.local/v1/`,
		InputRAWAllowIncomplete: true,
	}
	chain, err := NewFilterChain(settings)
	require.NoError(t, err)

	in := newTestInput(
		exchange("api.local", "/v1/users", true),
		exchange("api.local", "/v2/users", true),
		exchange("cdn.local", "/v1/users", true),
		exchange("api.local", "/v1/partial", false),
	)
	out := &testOutput{}
	run(t, NewEmitter(chain, nil), in, out)

	require.Len(t, out.list, 2)
	assert.Equal(t, "/v1/users", out.list[0].URL)
	assert.Equal(t, "/v1/partial", out.list[1].URL)
}

func TestEmitterDropsIncomplete(t *testing.T) {
	chain, err := NewFilterChain(&config.AppSettings{ExcludeFilterURLMatch: "health"})
	require.NoError(t, err)

	in := newTestInput(
		exchange("api.local", "/users", true),
		exchange("api.local", "/health", true),
		exchange("api.local", "/slow", false),
	)
	out := &testOutput{}
	run(t, NewEmitter(chain, nil), in, out)

	require.Len(t, out.list, 1)
	assert.Equal(t, "/users", out.list[0].URL)
}

func TestNewFilterChainInvalidPattern(t *testing.T) {
	_, err := NewFilterChain(&config.AppSettings{IncludeFilterURLMatch: "("})
	assert.Error(t, err)
	_, err = NewFilterChain(&config.AppSettings{ExcludeFilterURLMatch: "["})
	assert.Error(t, err)
}

func TestEmitterSinkFailureIsFatal(t *testing.T) {
	in := newTestInput(exchange("a.local", "/1", true))
	broken := &testOutput{err: errors.Wrap(consts.ErrSinkFailure, "disk full")}
	other := &testOutput{err: errors.New("temporary")}

	var fatal []string
	e := NewEmitter(filter.NewFilterChain(), nil)
	e.fatal = func(format string, args ...interface{}) {
		fatal = append(fatal, fmt.Sprintf(format, args...))
	}
	run(t, e, in, broken, other)

	require.Len(t, fatal, 1)
	assert.Contains(t, fatal[0], "disk full")
}

type countLimiter struct {
	left int
}

func (l *countLimiter) Allow() bool {
	l.left--
	return l.left >= 0
}

func TestEmitterRateLimit(t *testing.T) {
	in := newTestInput(exchange("a.local", "/1", true), exchange("a.local", "/2", true),
		exchange("a.local", "/3", true))
	out := &testOutput{}
	run(t, NewEmitter(filter.NewFilterChain(), &countLimiter{left: 2}), in, out)
	assert.Len(t, out.list, 2)
}

func TestNewRateLimit(t *testing.T) {
	assert.Nil(t, NewRateLimit(&config.AppSettings{}))

	lim := NewRateLimit(&config.AppSettings{RateLimitQPS: 2})
	require.NotNil(t, lim)
	assert.True(t, lim.Allow())
	assert.True(t, lim.Allow())
	assert.False(t, lim.Allow())
}
