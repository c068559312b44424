package peer

import (
	"errors"
	"net"

	"github.com/pion/webrtc/v4"
)

// maxDatagramSize bounds a single game datagram.
const maxDatagramSize = 4096

// readFromGame forwards every datagram arriving on the relay socket into the data channel.
// Datagrams are dropped while no channel is open. It returns once the socket is closed.
func (r *Relay) readFromGame() {
	defer close(r.readerDone)

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.WithError(err).Debug("Reading from game socket failed")
			continue
		}
		if err := r.Send(buf[:n]); err != nil {
			r.log.WithError(err).Debug("Relaying game datagram failed")
		}
	}
}

// Send writes a datagram into the data channel unmodified. It is a no-op until the channel is open.
func (r *Relay) Send(data []byte) error {
	channel := r.channel.Load()
	if channel == nil || channel.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	return channel.Send(payload)
}

// writeToGame hands a datagram received from the remote peer to the local game process.
func (r *Relay) writeToGame(data []byte) {
	if _, err := r.conn.WriteToUDP(data, r.gameAddr); err != nil && !errors.Is(err, net.ErrClosed) {
		r.log.WithError(err).Debug("Writing to game socket failed")
	}
}
