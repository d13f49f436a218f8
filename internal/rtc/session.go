package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// session is one negotiated viewer. ICE candidates that arrive before
// the remote description is applied are buffered in arrival order and
// flushed exactly once.
type session struct {
	id      string
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticRTP
	created time.Time

	mu        sync.Mutex
	lastSeen  time.Time
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// applyCandidate defaults to pc.AddICECandidate; tests swap it.
	applyCandidate func(webrtc.ICECandidateInit) error
}

func newSession(id string, pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticRTP) *session {
	s := &session{
		id:       id,
		pc:       pc,
		track:    track,
		created:  time.Now(),
		lastSeen: time.Now(),
	}
	if pc != nil {
		s.applyCandidate = pc.AddICECandidate
	}
	return s
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// addCandidate applies the candidate now, or queues it while the
// remote description is still pending.
func (s *session) addCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.applyCandidate(c)
}

// remoteDescriptionSet drains the buffer in arrival order. Candidates
// queued concurrently land in pending until the flag flips, so none
// are lost or applied twice.
func (s *session) remoteDescriptionSet() error {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.applyCandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) close() {
	if s.pc != nil {
		_ = s.pc.Close()
	}
}
