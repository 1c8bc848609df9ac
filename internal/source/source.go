// Package source reads Ethernet frames for a controller instance, either
// from capture files or from a live interface.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"firestige.xyz/flowgate/internal/core"
)

// Frame is one captured packet-in.
type Frame struct {
	Data      []byte
	InPort    core.Port
	Timestamp time.Time
}

// Source yields frames in capture order. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next() (Frame, error)
	Close() error
}

// DeliverFunc hands one frame to its consumer.
type DeliverFunc func(ctx context.Context, f Frame) error

// Pump reads src until EOF and passes every frame to deliver. It returns the
// number of frames delivered. EOF is not an error.
func Pump(ctx context.Context, src Source, deliver DeliverFunc) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read frame %d: %w", n+1, err)
		}
		if err := deliver(ctx, f); err != nil {
			return n, err
		}
		n++
	}
}
