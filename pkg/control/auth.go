// Package control implements the coordinator connection: a websocket RPC
// link to a cluster control plane that approves/denies publish attempts
// and can kill live streams, plus a Redis pub/sub command receiver for the
// same kill/close operations issued out-of-band.
//
// Grounded directly on the teacher's control_connection.go,
// control_auth.go, redis_cmds.go and rtmp_callback.go, generalized from a
// single global RTMPServer reference into the KillTarget interface so this
// package has no dependency on pkg/rtmp's concrete types.
package control

import (
	"github.com/AgustinSRG/go-stream-toolkit/pkg/config"
	"github.com/golang-jwt/jwt/v5"
)

// MakeWebsocketAuthenticationToken signs a short-lived JWT used as the
// coordinator connection's auth header, grounded on
// MakeWebsocketAuthenticationToken (control_auth.go). Standardized on
// jwt/v5 (the teacher's rtmp_callback.go imports the unversioned jwt
// package; go.mod only lists v5, so v5 is used throughout this port).
func MakeWebsocketAuthenticationToken() string {
	secret := config.GetString("CONTROL_SECRET", "")
	if secret == "" {
		return ""
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "rtmp-control",
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return ""
	}
	return signed
}
