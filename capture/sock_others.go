//go:build !linux
// +build !linux

package capture

import (
	"net"

	"github.com/pkg/errors"
)

// NewSocket returns new M'maped sock_raw on packet version 2.
func NewSocket(_ net.Interface) (Socket, error) {
	return nil, errors.New("raw socket is only available on linux")
}
