// Package dispatcher implements the UDP receive loop that terminates
// the device protocol: frame/wrapper decode, shadow mutation, downlink
// replies and the follow-up requests a STATUS can trigger.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/logging"
	"github.com/besim-project/besimd/internal/shadow"
	"github.com/besim-project/besimd/internal/transport"
	"github.com/besim-project/besimd/pkg/protocol"
)

// followUpDelay is the pause between a STATUS ack and each follow-up
// GET_PROG the dispatcher issues for a room with an incomplete weekly
// program (spec §4.5: "the embedded device is slow").
const followUpDelay = time.Second

// backoffDelay is the pause after an unhandled panic/error while
// processing one datagram, before the receive loop resumes.
const backoffDelay = time.Second

// Dispatcher owns the UDP socket and the shadow store it mutates.
type Dispatcher struct {
	socket *transport.Socket
	store  *shadow.Store
	logger *zap.Logger

	// resyncOnSyncLost enables the SWVERSION/REFRESH/DEVICE_TIME
	// follow-up sequence for a device reporting CloudSyncLost, beyond
	// the GET_PROG follow-up every incomplete schedule already gets.
	resyncOnSyncLost bool
}

// New returns a Dispatcher bound to socket, mutating store.
func New(socket *transport.Socket, store *shadow.Store, resyncOnSyncLost bool) *Dispatcher {
	return &Dispatcher{
		socket:           socket,
		store:            store,
		logger:           logging.With(zap.String("component", "dispatcher")),
		resyncOnSyncLost: resyncOnSyncLost,
	}
}

// Run drives the receive loop until ctx is cancelled. Every decode or
// handling error is logged and the loop continues; per spec §7 the
// receiver is never killed by a single bad datagram.
func (d *Dispatcher) Run(ctx context.Context) error {
	buf := make([]byte, protocol.MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, addr, err := d.socket.Recv(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Error("socket read failed", zap.Error(err))
			time.Sleep(backoffDelay)
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		if err := d.handleDatagram(addr, datagram); err != nil {
			d.logger.Error("failed to handle datagram", zap.String("addr", addr.String()), zap.Error(err))
			time.Sleep(backoffDelay)
		}
	}
}

func (d *Dispatcher) handleDatagram(addr net.Addr, datagram []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling datagram from %s: %v", addr, r)
		}
	}()

	frame, err := protocol.DecodeFrame(datagram)
	if err != nil {
		d.logger.Warn("dropping malformed frame", zap.String("addr", addr.String()), zap.Error(err))
		return nil
	}

	w, warning, err := protocol.DecodeWrapper(frame.Payload)
	if err != nil {
		d.logger.Warn("dropping malformed message", zap.String("addr", addr.String()), zap.Error(err))
		return nil
	}
	if warning != "" {
		d.logger.Warn("unexpected field in wrapper", zap.String("msg", w.MsgID.String()), zap.String("detail", warning))
	}

	if !w.Valid {
		d.logger.Info("device rejected message type", zap.String("msg", w.MsgID.String()), zap.String("addr", addr.String()))
	}

	prefix, rest, err := protocol.DecodeCommonPrefix(w.Body)
	if err != nil {
		d.logger.Warn("dropping message without common prefix", zap.String("msg", w.MsgID.String()), zap.Error(err))
		return nil
	}

	d.store.TouchPeer(addr, frame.Seq)
	d.store.LinkDevice(addr, prefix.Device)

	consumed := protocol.CommonPrefixSize

	switch w.MsgID {
	case protocol.MsgStatus:
		consumed += d.handleStatus(addr, prefix, rest, w)
	case protocol.MsgPing:
		consumed += d.handlePing(addr, prefix, rest)
	case protocol.MsgProgram:
		consumed += d.handleProgram(addr, prefix, rest, w)
	case protocol.MsgProgEnd:
		consumed += d.handleProgEnd(addr, prefix, rest, w)
	case protocol.MsgSWVersion:
		consumed += d.handleSWVersion(addr, prefix, rest, w)
	case protocol.MsgGetProg, protocol.MsgRefresh, protocol.MsgDeviceTime, protocol.MsgOutsideTemp:
		consumed += d.handleScalarReply(prefix, rest, w)
	case protocol.MsgUnknown:
		d.logger.Info("unknown message type, not replying", zap.String("addr", addr.String()))
	default:
		if width, ok := w.MsgID.IsSet(); ok {
			consumed += d.handleSet(addr, prefix, rest, w, width)
		} else {
			d.logger.Info("no handler for message type", zap.String("msg", w.MsgID.String()))
		}
	}

	if total := protocol.CommonPrefixSize + len(rest); consumed != total {
		d.logger.Warn("bytes consumed did not match wrapper body length",
			zap.String("msg", w.MsgID.String()),
			zap.Int("consumed", consumed),
			zap.Int("body_len", total))
	}

	return nil
}

// withDevice forwards to Store.WithDevice, which runs fn under the
// store lock and creates the device shadow on first sight.
func (d *Dispatcher) withDevice(id uint32, addr net.Addr, fn func(dev *shadow.Device)) {
	d.store.WithDevice(id, addr, fn)
}

func (d *Dispatcher) send(addr net.Addr, id protocol.MsgID, response, write bool, body []byte) {
	if err := d.socket.Send(addr, id, response, write, body); err != nil {
		d.logger.Error("send failed", zap.String("msg", id.String()), zap.Error(err))
	}
}
