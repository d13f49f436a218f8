package rtc

import (
	"fmt"
	"net"
	"strings"

	"github.com/pion/turn/v4"
	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/config"
)

// StartTURN runs the embedded TURN/STUN relay for deployments behind
// NAT where no external relay is reachable. Returns (nil, nil) when
// disabled.
func StartTURN(cfg config.WebRTCConfig, log *zap.SugaredLogger) (*turn.Server, error) {
	if !cfg.TURNEnabled {
		return nil, nil
	}

	publicIP := net.ParseIP(cfg.TURNPublicIP)
	if publicIP == nil {
		return nil, fmt.Errorf("turn enabled but public ip %q is invalid", cfg.TURNPublicIP)
	}

	users, err := parseTURNUsers(cfg.TURNUsers, cfg.TURNRealm)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", cfg.TURNPort))
	if err != nil {
		return nil, fmt.Errorf("bind turn port %d: %w", cfg.TURNPort, err)
	}

	server, err := turn.NewServer(turn.ServerConfig{
		Realm: cfg.TURNRealm,
		AuthHandler: func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
			key, ok := users[username]
			return key, ok
		},
		PacketConnConfigs: []turn.PacketConnConfig{{
			PacketConn: conn,
			RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
				RelayAddress: publicIP,
				Address:      "0.0.0.0",
			},
		}},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("start turn server: %w", err)
	}

	log.Infow("turn server listening",
		"port", cfg.TURNPort, "realm", cfg.TURNRealm, "publicIP", cfg.TURNPublicIP)
	return server, nil
}

// parseTURNUsers expands "alice=secret bob=hunter2" into long-term
// credential keys.
func parseTURNUsers(spec, realm string) (map[string][]byte, error) {
	users := make(map[string][]byte)
	for _, pair := range strings.Fields(spec) {
		name, pass, ok := strings.Cut(pair, "=")
		if !ok || name == "" || pass == "" {
			return nil, fmt.Errorf("malformed turn user entry %q", pair)
		}
		users[name] = turn.GenerateAuthKey(name, realm, pass)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("turn enabled but no users configured")
	}
	return users, nil
}
