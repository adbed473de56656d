// Command rtmp-server runs a standalone RTMP ingest/distribution server:
// it accepts publish connections, fans each published stream out to any
// concurrently-playing sessions, and optionally reports to a coordinator
// over a websocket RPC link and/or a Redis pub/sub command channel.
//
// Grounded on the teacher's main.go entrypoint shape (load .env, read
// port/gop-cache/ip-limit from the environment, start listening), plus
// rtmp_server.go's publish/player bookkeeping, generalized onto
// pkg/rtmp.Server/pkg/rtmp.Session and pkg/control.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/AgustinSRG/go-stream-toolkit/pkg/config"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/control"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/logger"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/rtmp"
)

// registry tracks the live publisher per channel and the players waiting
// on (or already receiving) that channel's stream, generalizing the
// teacher's RTMPServer.channels/sessions maps (rtmp_server.go) onto
// pkg/rtmp.Session.
type registry struct {
	mu         sync.Mutex
	publishers map[string]*rtmp.Session
	players    map[string][]*rtmp.Session
}

func newRegistry() *registry {
	return &registry{
		publishers: map[string]*rtmp.Session{},
		players:    map[string][]*rtmp.Session{},
	}
}

// onPublish registers sess as the publisher for its app and wires every
// currently-waiting player as a sinker (grounded on StartIdlePlayers,
// rtmp_publisher.go).
func (r *registry) onPublish(sess *rtmp.Session) {
	app := sess.App()

	r.mu.Lock()
	r.publishers[app] = sess
	waiting := r.players[app]
	r.mu.Unlock()

	for _, p := range waiting {
		sess.AddSinker(p)
	}
}

// onPlay wires sess as a sinker of app's current publisher, or records it
// as waiting if nobody is publishing yet (grounded on StartPlayer/
// GetIdlePlayers).
func (r *registry) onPlay(sess *rtmp.Session) {
	app := sess.App()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.players[app] = append(r.players[app], sess)
	if pub, ok := r.publishers[app]; ok {
		pub.AddSinker(sess)
	}
}

// onSessionEnd removes sess from whichever bookkeeping it was in, reporting
// back whether it was the app's publisher so the caller can notify the
// coordinator (grounded on rtmp_publisher.go's OnStatusEnd PublishEnd call,
// which only fires for the publishing session, not every closed player).
func (r *registry) onSessionEnd(app string, sess *rtmp.Session) (wasPublisher bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.publishers[app] == sess {
		delete(r.publishers, app)
		wasPublisher = true
	}
	players := r.players[app]
	for i, p := range players {
		if p == sess {
			r.players[app] = append(players[:i], players[i+1:]...)
			break
		}
	}
	return wasPublisher
}

// Kill implements control.KillTarget.
func (r *registry) Kill(channel string, streamID string) {
	r.mu.Lock()
	pub, ok := r.publishers[channel]
	r.mu.Unlock()
	if !ok {
		return
	}
	if streamID == "" || streamID == "*" || pub.CoordinatorStreamID() == streamID {
		pub.Kill()
	}
}

// KillAllActivePublishers implements control.KillTarget, called right
// after a (re)connect to the coordinator (grounded on Connect's
// server.KillAllActivePublishers() call, control_connection.go).
func (r *registry) KillAllActivePublishers() {
	r.mu.Lock()
	pubs := make([]*rtmp.Session, 0, len(r.publishers))
	for _, p := range r.publishers {
		pubs = append(pubs, p)
	}
	r.mu.Unlock()

	for _, p := range pubs {
		p.Kill()
	}
}

// sessionReporter bridges a Session's report stream ("publish"/"play"
// events emitted from pkg/rtmp/session.go's dispatchCommand) into registry
// wiring.
type sessionReporter struct {
	reg  *registry
	sess *rtmp.Session
}

func (r *sessionReporter) OnReport(name string, kind string, value string) {
	switch kind {
	case "publish":
		r.reg.onPublish(r.sess)
	case "play":
		r.reg.onPlay(r.sess)
	case "error":
		logger.Debugf("[%s] %s", name, value)
	}
}

func main() {
	config.Load()

	reg := newRegistry()

	coordinator := control.NewConnection(reg, logger.Default())

	srv := rtmp.NewServer(func(sess *rtmp.Session) {
		sess.SetReporter(&sessionReporter{reg: reg, sess: sess})
		sess.SetPublishGate(coordinator.RequestPublish)
	})
	srv.SetOnClose(func(sess *rtmp.Session) {
		if reg.onSessionEnd(sess.App(), sess) {
			coordinator.PublishEnd(sess.App(), sess.CoordinatorStreamID())
		}
	})
	srv.SetIPLimit(uint32(config.GetInt("MAX_IP_CONCURRENT_CONNECTIONS", rtmp.DefaultIPConnectionLimit)))

	if allow := config.GetString("RTMP_PLAY_WHITELIST", ""); allow != "" {
		if err := srv.SetAllowList(allow); err != nil {
			logger.Errorf("invalid RTMP_PLAY_WHITELIST: %v", err)
		}
	}

	port := config.GetString("RTMP_PORT", "1935")
	if err := srv.Listen(config.GetString("BIND_ADDRESS", "") + ":" + port); err != nil {
		logger.Errorf("could not start RTMP listener: %v", err)
		os.Exit(1)
	}

	if certPath := config.GetString("SSL_CERT", ""); certPath != "" {
		keyPath := config.GetString("SSL_KEY", "")
		sslPort := config.GetString("RTMPS_PORT", "1936")
		if err := srv.ListenTLS(config.GetString("BIND_ADDRESS", "")+":"+sslPort, certPath, keyPath); err != nil {
			logger.Errorf("could not start RTMPS listener: %v", err)
		}
	}

	coordinator.Start()

	redisReceiver := control.NewRedisReceiver(reg, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	redisReceiver.Start(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		cancel()
		srv.Close()
	}()

	logger.Infof("RTMP server listening on port %s", port)
	if err := srv.Serve(ctx); err != nil {
		logger.Errorf("server error: %v", err)
	}
}
