package httpparser

import "github.com/pkg/errors"

var (
	ErrInvalidRequestLine   = errors.New("invalid request line")
	ErrInvalidMethod        = errors.New("invalid method")
	ErrInvalidStatusLine    = errors.New("invalid status line")
	ErrUnsupportedVersion   = errors.New("unsupported HTTP version")
	ErrInvalidHeader        = errors.New("invalid header")
	ErrHeaderTooLarge       = errors.New("header too large")
	ErrInvalidContentLength = errors.New("invalid Content-Length")
	ErrInvalidChunk         = errors.New("invalid chunk")
	ErrUnexpectedEOF        = errors.New("unexpected EOF in the middle of a message")
)
