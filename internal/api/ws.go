package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/nestcam/camerad/internal/rtc"
)

// handleWS runs JSON-RPC signaling over one WebSocket. Methods mirror
// the HTTP endpoints: offer, trickle, close. Sessions negotiated on a
// socket are torn down when the socket goes away, so a closed browser
// tab never leaks a peer connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	peer := &wsPeer{srv: s}
	rpc := jsonrpc2.NewConn(r.Context(), wsstream.NewObjectStream(conn),
		jsonrpc2.HandlerWithError(peer.handle))
	<-rpc.DisconnectNotify()
	peer.cleanup()
}

type wsPeer struct {
	srv *Server

	mu  sync.Mutex
	ids map[string]struct{}
}

func (p *wsPeer) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case "offer":
		var params struct {
			SDP string `json:"sdp"`
		}
		if err := unmarshalParams(req, &params); err != nil || params.SDP == "" {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "offer sdp required"}
		}
		id, answer, err := p.srv.deps.RTC.Offer(ctx, params.SDP)
		if err != nil {
			return nil, rpcError(err)
		}
		p.remember(id)
		return map[string]string{"sessionId": id, "sdp": answer}, nil

	case "trickle":
		var params struct {
			SessionID string                  `json:"sessionId"`
			Candidate webrtc.ICECandidateInit `json:"candidate"`
		}
		if err := unmarshalParams(req, &params); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "malformed candidate"}
		}
		if err := p.srv.deps.RTC.AddCandidate(params.SessionID, params.Candidate); err != nil {
			return nil, rpcError(err)
		}
		return map[string]bool{"ok": true}, nil

	case "close":
		var params struct {
			SessionID string `json:"sessionId"`
		}
		if err := unmarshalParams(req, &params); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "session id required"}
		}
		if err := p.srv.deps.RTC.CloseSession(params.SessionID); err != nil {
			return nil, rpcError(err)
		}
		p.forget(params.SessionID)
		return map[string]bool{"ok": true}, nil

	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound,
			Message: "unknown method " + req.Method}
	}
}

func (p *wsPeer) remember(id string) {
	p.mu.Lock()
	if p.ids == nil {
		p.ids = make(map[string]struct{})
	}
	p.ids[id] = struct{}{}
	p.mu.Unlock()
}

func (p *wsPeer) forget(id string) {
	p.mu.Lock()
	delete(p.ids, id)
	p.mu.Unlock()
}

func (p *wsPeer) cleanup() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.ids))
	for id := range p.ids {
		ids = append(ids, id)
	}
	p.ids = nil
	p.mu.Unlock()

	for _, id := range ids {
		_ = p.srv.deps.RTC.CloseSession(id)
	}
}

func unmarshalParams(req *jsonrpc2.Request, dst any) error {
	if req.Params == nil {
		return errors.New("missing params")
	}
	return json.Unmarshal(*req.Params, dst)
}

func rpcError(err error) *jsonrpc2.Error {
	code := int64(-32000)
	switch {
	case errors.Is(err, rtc.ErrCaptureNotRunning):
		code = -32001
	case errors.Is(err, rtc.ErrUnknownSession):
		code = -32002
	}
	return &jsonrpc2.Error{Code: code, Message: err.Error()}
}
