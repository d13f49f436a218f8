package rtc

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// rtpWriter is what the pump fans out to; TrackLocalStaticRTP
// satisfies it.
type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// rtpPump is the single reader of the capture pipeline's RTP leg. It
// fans every packet out to all attached session tracks, which keeps
// any number of viewers behind one device open.
type rtpPump struct {
	conn *net.UDPConn
	log  *zap.SugaredLogger

	mu     sync.RWMutex
	tracks map[string]rtpWriter
}

func newRTPPump(port int, log *zap.SugaredLogger) (*rtpPump, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, err
	}
	p := &rtpPump{conn: conn, log: log, tracks: make(map[string]rtpWriter)}
	go p.run()
	return p, nil
}

func (p *rtpPump) run() {
	buf := make([]byte, 1600)
	pkt := &rtp.Packet{}

	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			p.log.Warnw("rtp read failed", "error", err)
			continue
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue // not RTP, drop
		}

		p.mu.RLock()
		for id, track := range p.tracks {
			if err := track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				p.log.Debugw("rtp write failed", "session", id, "error", err)
			}
		}
		p.mu.RUnlock()
	}
}

func (p *rtpPump) attach(id string, track rtpWriter) {
	p.mu.Lock()
	p.tracks[id] = track
	p.mu.Unlock()
}

func (p *rtpPump) detach(id string) {
	p.mu.Lock()
	delete(p.tracks, id)
	p.mu.Unlock()
}

func (p *rtpPump) Close() error {
	return p.conn.Close()
}
