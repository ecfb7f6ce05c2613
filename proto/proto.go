/*
Package proto recognizes HTTP/1 message titles in raw payloads.

It is used on the first segment seen for a flow when neither the
handshake nor the capture target tells which side is the client:

	GET /index.html HTTP/1.1\r\n    -> request
	HTTP/1.1 200 OK\r\n             -> response
*/
package proto

import (
	"bytes"
	"net/http"
)

// CRLF In HTTP newline defined by 2 bytes
var CRLF = []byte("\r\n")

// Methods holds the http methods ordered in ascending order
var Methods = [...]string{
	http.MethodConnect, http.MethodDelete, http.MethodGet,
	http.MethodHead, http.MethodOptions, http.MethodPatch,
	http.MethodPost, http.MethodPut, http.MethodTrace,
}

const (
	//MinRequestCount GET / HTTP/1.1\r\n
	MinRequestCount = 16
	// MinResponseCount HTTP/1.1 200\r\n
	MinResponseCount = 14
	// VersionLen HTTP/1.1
	VersionLen = 8
)

// HasResponseTitle reports whether this payload starts with an HTTP/1
// status line
func HasResponseTitle(payload []byte) bool {
	if len(payload) < MinResponseCount {
		return false
	}
	if bytes.Index(payload, CRLF) == -1 {
		return false
	}
	if !isVersion(payload[:VersionLen]) || payload[VersionLen] != ' ' {
		return false
	}
	status, ok := atoI(payload[VersionLen+1 : VersionLen+4])
	if !ok || http.StatusText(status) == "" {
		return false
	}
	return payload[VersionLen+4] == ' ' || payload[VersionLen+4] == '\r'
}

// HasRequestTitle reports whether this payload starts with an HTTP/1
// request line
func HasRequestTitle(payload []byte) bool {
	if len(payload) < MinRequestCount {
		return false
	}
	titleLen := bytes.Index(payload, CRLF)
	if titleLen == -1 {
		return false
	}
	title := payload[:titleLen]
	if bytes.Count(title, []byte{' '}) != 2 {
		return false
	}
	if !IsMethod(Method(payload)) {
		return false
	}
	return isVersion(title[bytes.LastIndexByte(title, ' ')+1:])
}

// HasTitle reports if this payload has an http/1 title
func HasTitle(payload []byte) bool {
	return HasRequestTitle(payload) || HasResponseTitle(payload)
}

// Method returns HTTP method
func Method(payload []byte) []byte {
	end := bytes.IndexByte(payload, ' ')
	if end == -1 {
		return nil
	}
	return payload[:end]
}

func IsMethod(method []byte) bool {
	for _, m := range Methods {
		if string(method) == m {
			return true
		}
	}
	return false
}

func isVersion(b []byte) bool {
	major, minor, ok := http.ParseHTTPVersion(string(b))
	return ok && major == 1 && (minor == 0 || minor == 1)
}

// this works with positive decimal integers
func atoI(s []byte) (num int, ok bool) {
	if len(s) == 0 {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		num = num*10 + int(c-'0')
	}
	return num, true
}
