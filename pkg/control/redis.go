package control

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AgustinSRG/go-stream-toolkit/pkg/config"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/logger"
)

// RedisReceiver subscribes to a channel carrying "kill-session"/
// "close-stream" commands, grounded on setupRedisCommandReceiver/
// parseRedisCommand (redis_cmds.go).
type RedisReceiver struct {
	target KillTarget
	logger logger.Logger
}

// NewRedisReceiver builds a receiver wired to target; call Start to begin
// subscribing (a no-op when REDIS_USE isn't "YES").
func NewRedisReceiver(target KillTarget, l logger.Logger) *RedisReceiver {
	return &RedisReceiver{target: target, logger: l}
}

// Start runs the subscribe loop in the background, reconnecting with a
// 10-second backoff on error, matching the teacher's recover-and-retry
// shape.
func (r *RedisReceiver) Start(ctx context.Context) {
	if config.GetString("REDIS_USE", "") != "YES" {
		return
	}
	go r.run(ctx)
}

func (r *RedisReceiver) run(ctx context.Context) {
	host := config.GetString("REDIS_HOST", "localhost")
	port := config.GetString("REDIS_PORT", "6379")
	password := config.GetString("REDIS_PASSWORD", "")
	channel := config.GetString("REDIS_CHANNEL", "rtmp_commands")

	opts := &redis.Options{Addr: host + ":" + port, Password: password}
	if config.GetBool("REDIS_TLS", false) {
		opts.TLSConfig = &tls.Config{}
	}

	client := redis.NewClient(opts)
	defer client.Close()

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	r.logger.Debugf("[REDIS] listening for commands on channel %q", channel)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			r.logger.Errorf("[REDIS] receive error: %v", err)
			time.Sleep(10 * time.Second)
			continue
		}
		r.parseCommand(msg.Payload)
	}
}

func (r *RedisReceiver) parseCommand(cmd string) {
	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		r.logger.Errorf("[REDIS] invalid message: %s", cmd)
		return
	}

	name := parts[0]
	args := strings.Split(parts[1], "|")

	switch name {
	case "kill-session":
		if len(args) < 1 {
			r.logger.Errorf("[REDIS] invalid kill-session message: %s", cmd)
			return
		}
		r.target.Kill(args[0], "*")
	case "close-stream":
		if len(args) < 2 {
			r.logger.Errorf("[REDIS] invalid close-stream message: %s", cmd)
			return
		}
		r.target.Kill(args[0], args[1])
	default:
		r.logger.Errorf("[REDIS] unknown command: %s", name)
	}
}
