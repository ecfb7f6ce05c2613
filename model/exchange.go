package model

import (
	"time"

	"github.com/google/uuid"
)

type Dir uint8

const (
	DirRequest Dir = iota
	DirResponse
	DirUnknown
)

func (d Dir) String() string {
	switch d {
	case DirRequest:
		return "request"
	case DirResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Exchange is one request/response pair reassembled from a TCP flow.
// Per-direction fields are indexed by DirRequest and DirResponse.
type Exchange struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Host       string    `json:"host"`
	StatusCode int       `json:"statusCode"`
	SrcAddr    string    `json:"srcAddr"`
	DstAddr    string    `json:"dstAddr"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`

	RawHeader [2][]byte `json:"-"`
	Body      [2][]byte `json:"-"`
	Complete  [2]bool   `json:"-"`
	Malformed [2]bool   `json:"-"`

	// Encoding is the response Content-Encoding as received, empty for
	// identity. DecodeErr is set when the body could not be decoded and
	// Body holds the encoded bytes.
	Encoding  string `json:"encoding,omitempty"`
	DecodeErr string `json:"decodeErr,omitempty"`
}

func NewExchange(srcAddr, dstAddr string) *Exchange {
	var e Exchange
	e.ID = uuid.New().String()
	e.SrcAddr = srcAddr
	e.DstAddr = dstAddr
	e.StartTime = time.Now()
	return &e
}

// Subject is the text URL filters are matched against.
func (e *Exchange) Subject() string {
	return e.Host + e.URL
}

func (e *Exchange) Finished() bool {
	return e.Complete[DirRequest] && e.Complete[DirResponse]
}

func (e *Exchange) HasRequestHeader() bool {
	return len(e.RawHeader[DirRequest]) > 0
}
