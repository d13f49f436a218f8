// Package rtc bridges browser viewers onto the capture pipeline's RTP
// leg. Sessions are answer-only: the camera always sends, never
// receives media.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/metrics"
)

var (
	// ErrUnknownSession is returned for ids the bridge never issued or
	// has already reaped.
	ErrUnknownSession = errors.New("unknown webrtc session")

	// ErrCaptureNotRunning rejects offers while there is no feed to
	// attach to.
	ErrCaptureNotRunning = errors.New("capture pipeline is not running")
)

// gatherTimeout caps how long Offer waits for ICE gathering to finish.
// With an unreachable STUN server gathering can hang well past any
// browser's patience; the caller's context rarely carries a deadline.
const gatherTimeout = 10 * time.Second

// Feed is the capture liveness gate.
type Feed interface {
	Running() bool
}

// SessionInfo is the externally visible session descriptor.
type SessionInfo struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// Bridge owns all viewer sessions and the shared RTP pump.
type Bridge struct {
	cfg  config.WebRTCConfig
	feed Feed
	log  *zap.SugaredLogger
	pump *rtpPump

	mu       sync.RWMutex
	sessions map[string]*session

	quit chan struct{}
	done chan struct{}
}

// NewBridge binds the RTP leg and starts the idle-session janitor.
func NewBridge(cfg config.WebRTCConfig, rtpPort int, feed Feed, log *zap.SugaredLogger) (*Bridge, error) {
	pump, err := newRTPPump(rtpPort, log)
	if err != nil {
		return nil, fmt.Errorf("bind rtp leg on port %d: %w", rtpPort, err)
	}
	b := &Bridge{
		cfg:      cfg,
		feed:     feed,
		log:      log,
		pump:     pump,
		sessions: make(map[string]*session),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.janitor()
	return b, nil
}

// Offer negotiates a new viewer session and returns its id plus the
// SDP answer. The answer carries gathered candidates so plain HTTP
// clients work without trickle.
func (b *Bridge) Offer(ctx context.Context, offerSDP string) (string, string, error) {
	if !b.feed.Running() {
		return "", "", ErrCaptureNotRunning
	}

	var servers []webrtc.ICEServer
	for _, s := range b.cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{s}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return "", "", fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "camerad")
	if err != nil {
		pc.Close()
		return "", "", fmt.Errorf("create video track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return "", "", fmt.Errorf("add video track: %w", err)
	}
	// RTCP must be drained or the interceptors stall.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	id := uuid.NewString()
	sess := newSession(id, pc, track)

	// Registered before negotiation so trickle candidates arriving
	// mid-handshake hit the session buffer instead of ErrUnknownSession.
	b.mu.Lock()
	b.sessions[id] = sess
	b.mu.Unlock()

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		b.onPeerState(id, sess, st)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: offerSDP,
	}); err != nil {
		b.drop(id)
		return "", "", fmt.Errorf("apply offer: %w", err)
	}
	if err := sess.remoteDescriptionSet(); err != nil {
		b.log.Warnw("buffered candidate rejected", "session", id, "error", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		b.drop(id)
		return "", "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		b.drop(id)
		return "", "", fmt.Errorf("apply answer: %w", err)
	}
	gatherCtx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()
	select {
	case <-gathered:
	case <-gatherCtx.Done():
		b.drop(id)
		return "", "", fmt.Errorf("ice gathering: %w", gatherCtx.Err())
	}

	b.pump.attach(id, track)
	metrics.AddWebRTCSessions(1)
	b.log.Infow("webrtc session negotiated", "session", id)
	return id, pc.LocalDescription().SDP, nil
}

// onPeerState maps peer connection state changes onto session
// lifetime. Disconnected is transient: ICE often recovers from it, so
// the session only gets a fresh idle window and the janitor reaps it
// if it never comes back. Failed and Closed are terminal.
func (b *Bridge) onPeerState(id string, sess *session, st webrtc.PeerConnectionState) {
	b.log.Debugw("webrtc state change", "session", id, "state", st)
	switch st {
	case webrtc.PeerConnectionStateConnected,
		webrtc.PeerConnectionStateDisconnected:
		sess.touch()
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		_ = b.CloseSession(id)
	}
}

// AddCandidate feeds one trickle ICE candidate into a session.
func (b *Bridge) AddCandidate(id string, cand webrtc.ICECandidateInit) error {
	b.mu.RLock()
	sess, ok := b.sessions[id]
	b.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	sess.touch()
	return sess.addCandidate(cand)
}

// CloseSession tears a session down. Unknown ids are a no-op: the
// janitor may have won the race and that is fine.
func (b *Bridge) CloseSession(id string) error {
	b.mu.Lock()
	sess, ok := b.sessions[id]
	if ok {
		delete(b.sessions, id)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	b.pump.detach(id)
	sess.close()
	metrics.AddWebRTCSessions(-1)
	b.log.Infow("webrtc session closed", "session", id)
	return nil
}

// Sessions lists the live sessions for the status endpoint.
func (b *Bridge) Sessions() []SessionInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(b.sessions))
	for _, sess := range b.sessions {
		state := "new"
		if sess.pc != nil {
			state = sess.pc.ConnectionState().String()
		}
		infos = append(infos, SessionInfo{ID: sess.id, State: state, CreatedAt: sess.created})
	}
	return infos
}

// Close reaps every session and releases the RTP socket.
func (b *Bridge) Close() {
	close(b.quit)
	<-b.done

	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*session)
	b.mu.Unlock()

	for id, sess := range sessions {
		b.pump.detach(id)
		sess.close()
	}
	b.pump.Close()
}

// drop removes a half-built session that never reached the pump.
func (b *Bridge) drop(id string) {
	b.mu.Lock()
	sess, ok := b.sessions[id]
	delete(b.sessions, id)
	b.mu.Unlock()
	if ok {
		sess.close()
	}
}

// janitor closes sessions that never connected within the idle window
// and flushes everything when the feed goes down.
func (b *Bridge) janitor() {
	defer close(b.done)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.quit:
			return
		case <-ticker.C:
		}

		feedUp := b.feed.Running()

		b.mu.RLock()
		var stale []string
		for id, sess := range b.sessions {
			if !feedUp {
				stale = append(stale, id)
				continue
			}
			if sess.pc != nil && sess.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
				continue
			}
			if time.Since(sess.idleSince()) > b.cfg.IdleTimeout {
				stale = append(stale, id)
			}
		}
		b.mu.RUnlock()

		for _, id := range stale {
			b.log.Infow("reaping webrtc session", "session", id, "feedUp", feedUp)
			_ = b.CloseSession(id)
		}
	}
}
