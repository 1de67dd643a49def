package broadcast

import (
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	ChannelPrefix = "channel-"
	PingKey       = "ping"
	ReloadPrefix  = "reload:"
	PongPrefix    = "pong:"
)

// Kind classifies a key of the shared medium.
type Kind int

const (
	KindUnknown Kind = iota
	KindState
	KindReload
	KindPing
	KindPong
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindReload:
		return "reload"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Classify returns the kind of key and the channel it belongs to, if any.
func Classify(key string) (Kind, string) {
	switch {
	case key == PingKey:
		return KindPing, ""
	case strings.HasPrefix(key, ChannelPrefix):
		return KindState, key
	case strings.HasPrefix(key, ReloadPrefix):
		return KindReload, strings.TrimPrefix(key, ReloadPrefix)
	case strings.HasPrefix(key, PongPrefix):
		return KindPong, strings.TrimPrefix(key, PongPrefix)
	default:
		return KindUnknown, ""
	}
}

func ReloadKey(channel string) string {
	return ReloadPrefix + channel
}

func PongKey(channel string) string {
	return PongPrefix + channel
}

// Payload returns a value that differs from every previous one, so writing it
// always notifies.
func Payload(c clock.Clock) string {
	return uuid.NewString() + "@" + strconv.FormatInt(c.Now().UnixMilli(), 10)
}
