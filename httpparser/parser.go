// Package httpparser is a push-style HTTP/1.x tokenizer.
//
// Bytes are fed with Execute in arbitrary pieces; the parser keeps partial
// lines internally and reports tokens to a Handler as soon as they are
// complete. One Parser handles one direction of one connection, any number
// of keep-alive messages in a row.
package httpparser

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

type Kind uint8

const (
	Request Kind = iota
	Response
)

func (k Kind) String() string {
	if k == Request {
		return "request"
	}
	return "response"
}

const (
	DefaultMaxHeaderSize = 80 << 10
	maxChunkLineSize     = 4096
)

// Handler receives tokens synchronously from Execute and Finish.
// Byte slices passed to callbacks are only valid during the call.
type Handler interface {
	OnMessageBegin()
	// OnURL is called for requests, Parser.Method is already set.
	OnURL(url []byte)
	// OnStatus is called for responses.
	OnStatus(code int, reason []byte)
	OnHeaderField(name []byte)
	OnHeaderValue(value []byte)
	// OnHeadersComplete gets the size of the message head, start line and
	// the terminating empty line included. Returning true tells the parser
	// the message has no body, e.g. a response to HEAD.
	OnHeadersComplete(headerLen int) (skipBody bool)
	// OnBody gets body bytes with chunked framing removed.
	OnBody(chunk []byte)
	OnMessageComplete()
}

type state uint8

const (
	stateStart state = iota
	stateFirstLine
	stateHeaders
	stateBodyIdentity
	stateBodyEOF
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailer
	// a request asked to switch protocols, the bytes after it wait
	// until Upgrade tells whether the server agreed
	stateUpgradePending
	// the connection switched protocols, the rest is not HTTP
	stateUpgraded
	// a read-until-close body was terminated
	stateDone
	stateDead
)

type Parser struct {
	kind    Kind
	handler Handler

	MaxHeaderSize int

	state state
	err   error
	// partial line carried over between Execute calls
	line []byte
	// bytes processed since the parser was created
	pos      int64
	msgStart int64

	// per message
	headerLen     int
	method        string
	statusCode    int
	protoMajor    int
	protoMinor    int
	contentLength int64
	remaining     int64
	chunked       bool
	upgrade       bool
	// Upgrade header and the upgrade token in Connection
	upgradeHeader bool
	connUpgrade   bool
	sawHeader     bool
}

func New(kind Kind, handler Handler) *Parser {
	var p Parser
	p.kind = kind
	p.handler = handler
	p.MaxHeaderSize = DefaultMaxHeaderSize
	p.resetMessage()
	return &p
}

func (p *Parser) Kind() Kind {
	return p.kind
}

func (p *Parser) Method() string {
	return p.method
}

func (p *Parser) StatusCode() int {
	return p.statusCode
}

func (p *Parser) ProtoAtLeast(major, minor int) bool {
	return p.protoMajor > major || p.protoMajor == major && p.protoMinor >= minor
}

// MessageStart is the stream offset of the first byte of the current
// message.
func (p *Parser) MessageStart() int64 {
	return p.msgStart
}

func (p *Parser) Err() error {
	return p.err
}

func (p *Parser) resetMessage() {
	p.headerLen = 0
	p.method = ""
	p.statusCode = 0
	p.protoMajor, p.protoMinor = 0, 0
	p.contentLength = -1
	p.remaining = 0
	p.chunked = false
	p.upgrade = false
	p.upgradeHeader = false
	p.connUpgrade = false
	p.sawHeader = false
}

// Execute feeds data to the parser. Every byte is consumed unless an
// error occurs or a request upgrade is pending; after an error the parser
// is dead and keeps returning it.
func (p *Parser) Execute(data []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}

	i := 0
	for i < len(data) {
		var n int
		var err error
		switch p.state {
		case stateStart:
			n = p.parseStart(data[i:])
		case stateFirstLine, stateHeaders, stateChunkSize, stateChunkDataEnd, stateTrailer:
			n, err = p.parseLine(data[i:])
		case stateBodyIdentity:
			n = p.parseIdentity(data[i:])
		case stateChunkData:
			n = p.parseChunkData(data[i:])
		case stateBodyEOF:
			n = len(data) - i
			p.handler.OnBody(data[i:])
		case stateUpgraded, stateDone:
			n = len(data) - i
		case stateUpgradePending:
			return i, nil
		}
		p.pos += int64(n)
		i += n
		if err != nil {
			p.err = err
			p.state = stateDead
			return i, err
		}
	}
	return i, nil
}

// Finish tells the parser the stream has ended.
func (p *Parser) Finish() error {
	if p.err != nil {
		return p.err
	}
	switch p.state {
	case stateBodyEOF:
		p.state = stateDone
		p.handler.OnMessageComplete()
		return nil
	case stateStart, stateUpgradePending, stateUpgraded, stateDone:
		return nil
	default:
		p.err = ErrUnexpectedEOF
		p.state = stateDead
		return p.err
	}
}

// parseStart skips the empty lines allowed between messages.
func (p *Parser) parseStart(data []byte) int {
	for k, c := range data {
		if c != '\r' && c != '\n' {
			p.resetMessage()
			p.msgStart = p.pos + int64(k)
			p.state = stateFirstLine
			p.handler.OnMessageBegin()
			return k
		}
	}
	return len(data)
}

func (p *Parser) inHead() bool {
	return p.state == stateFirstLine || p.state == stateHeaders
}

func (p *Parser) parseLine(data []byte) (int, error) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		p.line = append(p.line, data...)
		if p.inHead() {
			p.headerLen += len(data)
			if p.headerLen > p.MaxHeaderSize {
				return len(data), ErrHeaderTooLarge
			}
		} else if len(p.line) > maxChunkLineSize {
			return len(data), errors.Wrap(ErrInvalidChunk, "line too long")
		}
		return len(data), nil
	}

	var line []byte
	if len(p.line) == 0 {
		line = data[:idx]
	} else {
		p.line = append(p.line, data[:idx]...)
		line = p.line
	}
	line = bytes.TrimSuffix(line, []byte{'\r'})

	if p.inHead() {
		p.headerLen += idx + 1
		if p.headerLen > p.MaxHeaderSize {
			return idx + 1, ErrHeaderTooLarge
		}
	}

	err := p.processLine(line)
	p.line = p.line[:0]
	return idx + 1, err
}

func (p *Parser) processLine(line []byte) error {
	switch p.state {
	case stateFirstLine:
		var err error
		if p.kind == Request {
			err = p.parseRequestLine(line)
		} else {
			err = p.parseStatusLine(line)
		}
		if err != nil {
			return err
		}
		p.state = stateHeaders
	case stateHeaders:
		if len(line) == 0 {
			p.headersComplete()
			return nil
		}
		return p.parseHeaderLine(line)
	case stateChunkSize:
		return p.parseChunkSize(line)
	case stateChunkDataEnd:
		if len(line) != 0 {
			return errors.Wrap(ErrInvalidChunk, "missing CRLF after chunk data")
		}
		p.state = stateChunkSize
	case stateTrailer:
		// trailer fields are not reported
		if len(line) == 0 {
			p.messageComplete()
		}
	}
	return nil
}

func (p *Parser) parseRequestLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrInvalidRequestLine
	}
	sp2 := bytes.LastIndexByte(line, ' ')
	if sp2 <= sp1+1 {
		return ErrInvalidRequestLine
	}

	method := string(line[:sp1])
	if !httpguts.ValidHeaderFieldName(method) {
		return errors.Wrapf(ErrInvalidMethod, "%q", method)
	}
	var ok bool
	p.protoMajor, p.protoMinor, ok = http.ParseHTTPVersion(string(line[sp2+1:]))
	if !ok {
		return errors.Wrapf(ErrInvalidRequestLine, "%q", line)
	}
	if p.protoMajor != 1 {
		return errors.Wrapf(ErrUnsupportedVersion, "%q", line[sp2+1:])
	}
	url := bytes.TrimSpace(line[sp1+1 : sp2])
	if len(url) == 0 {
		return ErrInvalidRequestLine
	}

	p.method = method
	if method == http.MethodConnect {
		p.upgrade = true
	}
	p.handler.OnURL(url)
	return nil
}

func (p *Parser) parseStatusLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrInvalidStatusLine
	}
	var ok bool
	p.protoMajor, p.protoMinor, ok = http.ParseHTTPVersion(string(line[:sp1]))
	if !ok {
		return errors.Wrapf(ErrInvalidStatusLine, "%q", line)
	}
	if p.protoMajor != 1 {
		return errors.Wrapf(ErrUnsupportedVersion, "%q", line[:sp1])
	}

	rest := line[sp1+1:]
	var reason []byte
	if sp2 := bytes.IndexByte(rest, ' '); sp2 >= 0 {
		reason = rest[sp2+1:]
		rest = rest[:sp2]
	}
	if len(rest) != 3 {
		return errors.Wrapf(ErrInvalidStatusLine, "%q", line)
	}
	code, err := strconv.Atoi(string(rest))
	if err != nil || code < 100 {
		return errors.Wrapf(ErrInvalidStatusLine, "%q", line)
	}
	p.statusCode = code
	p.handler.OnStatus(code, reason)
	return nil
}

func (p *Parser) parseHeaderLine(line []byte) error {
	// obsolete line folding continues the previous value
	if line[0] == ' ' || line[0] == '\t' {
		if !p.sawHeader {
			return errors.Wrap(ErrInvalidHeader, "continuation line without header")
		}
		p.handler.OnHeaderValue(bytes.TrimSpace(line))
		return nil
	}

	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return errors.Wrapf(ErrInvalidHeader, "%q", line)
	}
	name := line[:colon]
	value := bytes.TrimSpace(line[colon+1:])
	if !httpguts.ValidHeaderFieldName(string(name)) {
		return errors.Wrapf(ErrInvalidHeader, "field name %q", name)
	}
	if !httpguts.ValidHeaderFieldValue(string(value)) {
		return errors.Wrapf(ErrInvalidHeader, "value of %q", name)
	}

	switch {
	case bytes.EqualFold(name, []byte("Content-Length")):
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil || n < 0 {
			return errors.Wrapf(ErrInvalidContentLength, "%q", value)
		}
		if p.contentLength >= 0 && p.contentLength != n {
			return errors.Wrap(ErrInvalidContentLength, "conflicting values")
		}
		p.contentLength = n
	case bytes.EqualFold(name, []byte("Transfer-Encoding")):
		if bytes.Contains(bytes.ToLower(value), []byte("chunked")) {
			p.chunked = true
		}
	case bytes.EqualFold(name, []byte("Upgrade")):
		p.upgradeHeader = len(value) > 0
	case bytes.EqualFold(name, []byte("Connection")):
		if httpguts.HeaderValuesContainsToken([]string{string(value)}, "upgrade") {
			p.connUpgrade = true
		}
	}

	p.sawHeader = true
	p.handler.OnHeaderField(name)
	p.handler.OnHeaderValue(value)
	return nil
}

func (p *Parser) headersComplete() {
	if p.kind == Request && p.upgradeHeader && p.connUpgrade {
		p.upgrade = true
	}
	skipBody := p.handler.OnHeadersComplete(p.headerLen)

	if p.kind == Response {
		switch {
		case p.statusCode == http.StatusSwitchingProtocols:
			skipBody = true
		case p.statusCode < 200, p.statusCode == http.StatusNoContent,
			p.statusCode == http.StatusNotModified:
			skipBody = true
		}
	}

	switch {
	case skipBody:
		p.messageComplete()
	case p.chunked:
		p.state = stateChunkSize
	case p.contentLength > 0:
		p.remaining = p.contentLength
		p.state = stateBodyIdentity
	case p.contentLength == 0, p.kind == Request:
		p.messageComplete()
	default:
		// response delimited by connection close
		p.state = stateBodyEOF
	}
}

func (p *Parser) parseIdentity(data []byte) int {
	n := len(data)
	if int64(n) > p.remaining {
		n = int(p.remaining)
	}
	p.handler.OnBody(data[:n])
	p.remaining -= int64(n)
	if p.remaining == 0 {
		p.messageComplete()
	}
	return n
}

func (p *Parser) parseChunkSize(line []byte) error {
	if semi := bytes.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = bytes.TrimSpace(line)
	size, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || size < 0 {
		return errors.Wrapf(ErrInvalidChunk, "size %q", line)
	}
	if size == 0 {
		p.state = stateTrailer
		return nil
	}
	p.remaining = size
	p.state = stateChunkData
	return nil
}

func (p *Parser) parseChunkData(data []byte) int {
	n := len(data)
	if int64(n) > p.remaining {
		n = int(p.remaining)
	}
	p.handler.OnBody(data[:n])
	p.remaining -= int64(n)
	if p.remaining == 0 {
		p.state = stateChunkDataEnd
	}
	return n
}

func (p *Parser) messageComplete() {
	switch {
	case p.kind == Response && p.statusCode == http.StatusSwitchingProtocols:
		p.state = stateUpgraded
	case p.kind == Request && p.upgrade:
		p.state = stateUpgradePending
	default:
		p.state = stateStart
	}
	p.handler.OnMessageComplete()
}

// UpgradePending reports whether the last request asked to switch
// protocols and the answer is not known yet.
func (p *Parser) UpgradePending() bool {
	return p.state == stateUpgradePending
}

// Upgrade settles a protocol switch. Accepted, everything after the
// current message is opaque. Refused, a pending request parser goes back
// to reading messages. A parser in the middle of a message is left alone.
func (p *Parser) Upgrade(accepted bool) {
	switch p.state {
	case stateStart, stateUpgradePending:
	default:
		return
	}
	if accepted {
		p.state = stateUpgraded
		return
	}
	p.state = stateStart
}
