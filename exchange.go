package plogwatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// statsRequest is the command datagram a plog server answers with its statistics.
var statsRequest = []byte("\x00\x00statfordatadogplease")

// aLongTimeAgo is a deadline in the past, used to unblock a pending read.
var aLongTimeAgo = time.Unix(1, 0)

// Exchange describes one request/reply round trip.
type Exchange struct {
	Target     netip.AddrPort
	SentAt     time.Time
	ReceivedAt time.Time
	// Size is the number of bytes read from the accepted reply.
	Size int
	// Dropped counts datagrams discarded because they came from another address.
	Dropped int
}

// Latency is the time between sending the request and receiving the reply, zero if no reply
// arrived.
func (e Exchange) Latency() time.Duration {
	if e.SentAt.IsZero() || e.ReceivedAt.IsZero() {
		return 0
	}
	return e.ReceivedAt.Sub(e.SentAt)
}

// exchanger sends the stats request and waits for the reply. Every call owns its socket.
type exchanger struct {
	addrs  *addrCache
	logger zerolog.Logger
}

func newExchanger(resolver TTLResolver, logger zerolog.Logger) *exchanger {
	return &exchanger{addrs: newAddrCache(resolver), logger: logger}
}

// fetchStats performs one exchange with the instance and decodes the reply.
func (x *exchanger) fetchStats(ctx context.Context, inst Instance) (Value, Exchange, error) {
	var ex Exchange

	target, err := x.addrs.resolve(ctx, inst.Host, inst.Port)
	if err != nil {
		return Value{}, ex, &TransportError{Op: "resolve", Err: err}
	}
	ex.Target = target

	network := "udp4"
	if target.Addr().Is6() {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return Value{}, ex, &TransportError{Op: "listen", Err: err}
	}
	defer conn.Close()

	timeout := inst.TimeoutDuration()
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Value{}, ex, &TransportError{Op: "deadline", Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	ex.SentAt = time.Now()
	if _, err := conn.WriteToUDPAddrPort(statsRequest, target); err != nil {
		return Value{}, ex, &TransportError{Op: "write", Err: err}
	}

	buf := make([]byte, min(inst.MaxSize, MaxDatagramSize))
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
				return Value{}, ex, ctxErr
			}
			if isTimeout(err) {
				return Value{}, ex, fmt.Errorf("%w from %s after %s", ErrTimeout, target, timeout)
			}
			return Value{}, ex, &TransportError{Op: "read", Err: err}
		}

		if inst.PeerVerification() && !samePeer(from, target) {
			ex.Dropped++
			x.logger.Debug().
				Str("target", target.String()).
				Str("from", from.String()).
				Int("size", n).
				Msg("dropping datagram from unexpected peer")
			continue
		}

		ex.ReceivedAt = time.Now()
		ex.Size = n
		doc, err := DecodeDocument(buf[:n])
		return doc, ex, err
	}
}

// samePeer compares addresses with IPv4-mapped IPv6 addresses unmapped.
func samePeer(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().Unmap() == b.Addr().Unmap()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
