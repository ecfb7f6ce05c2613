package http1

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/vearne/httpsniffer/httpparser"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/tcp"
	slog "github.com/vearne/simplelog"
)

// ParseFailure is returned once a direction stops being valid HTTP.
type ParseFailure struct {
	Dir    model.Dir
	Offset int
	Err    error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("%v parse failure at offset %d: %v", e.Dir, e.Offset, e.Err)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// Adapter feeds one direction's reassembled bytes to its own parser and
// turns parser callbacks into Exchange updates.
type Adapter struct {
	dir     model.Dir
	buffer  *tcp.SegmentBuffer
	parser  *httpparser.Parser
	session *Session

	// exchange the current message belongs to
	exchange *model.Exchange
	// current header field name, lower case
	field string
	// the field already got a value, more are folded continuation lines
	valueSeen bool
	// request whose protocol switch waits for the response
	upgrading *model.Exchange
	failure   *ParseFailure
}

func newAdapter(dir model.Dir, buffer *tcp.SegmentBuffer, session *Session) *Adapter {
	var a Adapter
	a.dir = dir
	a.buffer = buffer
	a.session = session
	kind := httpparser.Request
	if dir == model.DirResponse {
		kind = httpparser.Response
	}
	a.parser = httpparser.New(kind, &a)
	return &a
}

// Pump hands every byte appended since the last call to the parser.
func (a *Adapter) Pump() error {
	if a.failure != nil {
		return a.failure
	}
	data := a.buffer.Unconsumed()
	if len(data) == 0 {
		return nil
	}
	n, err := a.parser.Execute(data)
	if err != nil {
		a.fail(a.buffer.Consumed()+n, err)
		return a.failure
	}
	a.buffer.Advance(n)
	return nil
}

// Finish signals the end of the direction's stream.
func (a *Adapter) Finish() error {
	if a.failure != nil {
		return a.failure
	}
	if err := a.parser.Finish(); err != nil {
		// a truncated message, not a malformed one
		a.failure = &ParseFailure{Dir: a.dir, Offset: a.buffer.Consumed(), Err: err}
		slog.Debug("%v, %v", a.session.Conn.String(), a.failure)
		return a.failure
	}
	return nil
}

func (a *Adapter) Failed() bool {
	return a.failure != nil
}

func (a *Adapter) fail(offset int, err error) {
	a.failure = &ParseFailure{Dir: a.dir, Offset: offset, Err: err}
	// everything is consumed, the parser will never look at it again
	a.buffer.Advance(a.buffer.Len())
	if a.exchange != nil {
		a.exchange.Malformed[a.dir] = true
	}
	slog.Debug("%v, %v", a.session.Conn.String(), a.failure)
}

func (a *Adapter) OnMessageBegin() {
	a.field = ""
	if a.dir == model.DirRequest {
		a.exchange = a.session.beginRequest()
		return
	}
	a.exchange = a.session.beginResponse()
	// an interim 1xx response may have been recorded already
	a.exchange.RawHeader[model.DirResponse] = nil
	a.exchange.Body[model.DirResponse] = nil
	a.exchange.Encoding = ""
}

func (a *Adapter) OnURL(url []byte) {
	if a.exchange == nil {
		return
	}
	a.exchange.URL = string(url)
	a.exchange.Method = a.parser.Method()
}

func (a *Adapter) OnStatus(code int, reason []byte) {
	if a.exchange == nil {
		return
	}
	a.exchange.StatusCode = code
}

func (a *Adapter) OnHeaderField(name []byte) {
	a.field = strings.ToLower(string(name))
	a.valueSeen = false
}

func (a *Adapter) OnHeaderValue(value []byte) {
	continued := a.valueSeen
	a.valueSeen = true
	if a.exchange == nil {
		return
	}
	switch {
	case a.dir == model.DirResponse && a.field == "content-encoding":
		enc := strings.ToLower(strings.TrimSpace(string(value)))
		if enc == "" || enc == "identity" {
			return
		}
		switch {
		case a.exchange.Encoding == "":
		case continued:
			enc = a.exchange.Encoding + " " + enc
		default:
			enc = a.exchange.Encoding + ", " + enc
		}
		a.exchange.Encoding = enc
	case a.dir == model.DirRequest && a.field == "host":
		if continued {
			a.exchange.Host += " " + string(value)
			return
		}
		a.exchange.Host = string(value)
	}
}

func (a *Adapter) OnHeadersComplete(headerLen int) bool {
	if a.exchange == nil {
		return false
	}
	start := int(a.parser.MessageStart())
	raw := a.buffer.Bytes()[start : start+headerLen]
	a.exchange.RawHeader[a.dir] = append([]byte(nil), raw...)

	if a.dir == model.DirResponse {
		// responses to HEAD and to a successful CONNECT carry no body
		switch a.exchange.Method {
		case http.MethodHead:
			return true
		case http.MethodConnect:
			return a.exchange.StatusCode >= 200 && a.exchange.StatusCode < 300
		}
	}
	return false
}

func (a *Adapter) OnBody(chunk []byte) {
	if a.exchange == nil {
		return
	}
	a.exchange.Body[a.dir] = append(a.exchange.Body[a.dir], chunk...)
}

func (a *Adapter) OnMessageComplete() {
	ex := a.exchange
	if ex == nil {
		return
	}
	if a.dir == model.DirRequest {
		ex.Complete[model.DirRequest] = true
		if a.parser.UpgradePending() {
			a.upgrading = ex
		}
		return
	}

	code := ex.StatusCode
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		// wait for the final response
		return
	}
	ex.Complete[model.DirResponse] = true
	resume := a.settleUpgrade(ex)
	PostProcess(ex)
	a.exchange = nil
	a.session.finish(ex)
	if resume {
		// bytes held back while the upgrade was pending
		_ = a.session.adapters[model.DirRequest].Pump()
	}
}

// settleUpgrade tells both parsers whether the final response ex
// switched the connection away from HTTP. It returns true when the
// request parser may continue.
func (a *Adapter) settleUpgrade(ex *model.Exchange) bool {
	code := ex.StatusCode
	accepted := code == http.StatusSwitchingProtocols ||
		ex.Method == http.MethodConnect && code >= 200 && code < 300
	if accepted {
		a.parser.Upgrade(true)
	}

	req := a.session.adapters[model.DirRequest]
	switch {
	case req.upgrading == ex:
		req.upgrading = nil
		req.parser.Upgrade(accepted)
	case accepted:
		req.parser.Upgrade(true)
	default:
		return false
	}
	slog.Debug("%v, upgrade %v:%v, accepted:%v", a.session.Conn.String(), ex.Method, ex.URL, accepted)
	return true
}
