//go:build !linux || !cgo

package source

// OpenLive always fails where AF_PACKET is unavailable.
func OpenLive(cfg LiveConfig) (Source, error) {
	return nil, ErrLiveUnsupported
}
