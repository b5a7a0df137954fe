package logging

import (
	"fmt"
)

// Interface decouples the sampler packages from a concrete logging backend.
// Production binaries get a zap-backed implementation; tests usually use
// Discard() or a logrus-backed test logger.
type Interface interface {
	WithField(key string, value interface{}) Interface
	WithError(err error) Interface

	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// ShardField is the structured field attached to every log line emitted by a
// sampling worker.
const ShardField = "shard"

// ForShard returns a logger tagged with the worker's shard index.
func ForShard(l Interface, shardIndex int) Interface {
	if l == nil {
		return Discard()
	}
	return l.WithField(ShardField, shardIndex)
}

func fmtMsg(format string, args []interface{}) string {
	msg := format
	if len(args) != 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return msg
}
