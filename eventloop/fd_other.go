//go:build !unix && !windows

package eventloop

import (
	"net/netip"

	"github.com/joeycumines/go-reactor"
)

func setNonblock(fd uintptr) (func(), error) { return nil, ErrUnsupportedPlatform }

func startConnect(addr netip.AddrPort) (*reactor.IOHandle, error) {
	return nil, ErrUnsupportedPlatform
}

func connectResult(h *reactor.IOHandle) error { return ErrUnsupportedPlatform }
