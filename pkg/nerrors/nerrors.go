// Package nerrors collects the sentinel error taxonomy surfaced by
// the core (spec §7): network, (de)serialization, send/recv, timeout,
// connect-timeout, DHT, config, killed/double-kill and unknown-topic.
package nerrors

import "errors"

var (
	ErrNetwork        = errors.New("network error")
	ErrSerialization  = errors.New("serialization error")
	ErrDeserialize    = errors.New("deserialization error")
	ErrSend           = errors.New("send error: control channel closed")
	ErrRecv           = errors.New("recv error: reply channel dropped")
	ErrTimeout        = errors.New("timeout")
	ErrConnectTimeout = errors.New("connect timeout")
	ErrDHT            = errors.New("dht error")
	ErrNodeConfig     = errors.New("invalid node configuration")
	ErrKilled         = errors.New("handle already killed")
	ErrCantKillTwice  = errors.New("handle already shut down")
	ErrNoSuchTopic    = errors.New("no such topic")
)
