// Package wsbridge implements the WebSocket bridge worker (C7): a
// RobotProcess that relays a remote gateway's exchange traffic onto the
// local queue fabric (pull mode) or drains the local queue fabric onto the
// gateway (push mode), reconnecting on any transport failure so the
// supervisor's restart policy is the only recovery path that matters.
package wsbridge

import (
	"fmt"
	"os"
	"time"
)

// CommandType selects which direction the bridge worker relays traffic.
type CommandType string

const (
	CommandPull CommandType = "pull"
	CommandPush CommandType = "push"
	// commandLegacyPush is a third value preserved from older topology
	// documents; it is treated identically to CommandPush.
	commandLegacyPush CommandType = "push_loop"
)

// ExchangeType selects the remote gateway's routing semantics.
type ExchangeType string

const (
	ExchangeFanout ExchangeType = "fanout"
	ExchangeTopic  ExchangeType = "topic"
)

// DataType selects the pull-mode payload decoder.
type DataType string

const (
	DataJSON        DataType = "json"
	DataStr         DataType = "str"
	DataString      DataType = "string"
	DataBytes       DataType = "bytes"
	DataBinary      DataType = "binary"
	DataRequest     DataType = "request"
	DataBindRequest DataType = "bind_request"
)

// RPCUserType selects pull-mode RPC routing for topic exchanges.
type RPCUserType string

const (
	RPCDefault RPCUserType = "default"
	RPCClient  RPCUserType = "client"
	RPCService RPCUserType = "service"
)

// Config is the bridge worker's construction parameter block (§4.7). Every
// field with an environment fallback uses it only when the corresponding
// struct field is the empty string.
type Config struct {
	CommandType      CommandType
	Exchange         string
	ExchangeType     ExchangeType
	URL              string
	RobotName        string
	Username         string
	Password         string
	DataType         DataType
	RPCUserType      RPCUserType
	ServiceName      string // used to build the topic bind key when RPCUserType == service
	PingInterval     time.Duration
	ConnectionTimeout time.Duration
}

// Normalize resolves environment-variable fallbacks and defaults, and maps
// the legacy push command-type value. It must be called once before dialing
// the gateway.
func (c Config) Normalize() (Config, error) {
	return c.normalize()
}

// ControlPacket builds this config's control packet for sending as the
// first JSON message after connecting.
func (c Config) ControlPacket() controlPacket {
	return c.controlPacket()
}

// normalize is the unexported implementation behind Normalize.
func (c Config) normalize() (Config, error) {
	if c.CommandType == commandLegacyPush {
		c.CommandType = CommandPush
	}
	if c.CommandType != CommandPull && c.CommandType != CommandPush {
		return c, fmt.Errorf("wsbridge: unknown command_type %q", c.CommandType)
	}

	if c.ExchangeType == "" {
		c.ExchangeType = ExchangeFanout
	}
	if c.ExchangeType != ExchangeFanout && c.ExchangeType != ExchangeTopic {
		return c, fmt.Errorf("wsbridge: unknown exchange_type %q", c.ExchangeType)
	}

	if c.URL == "" {
		c.URL = os.Getenv("WEBSOCKET_GATE_URL")
	}
	if c.RobotName == "" {
		c.RobotName = os.Getenv("ROBOT_NAME")
	}
	if c.Username == "" {
		c.Username = firstNonEmptyEnv("RRF_USERNAME", "ML_NAME")
	}
	if c.Password == "" {
		c.Password = firstNonEmptyEnv("RRF_PASSWORD", "ML_PASSWORD")
	}

	if c.PingInterval <= 0 {
		c.PingInterval = time.Second
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 1500 * time.Millisecond
	}

	if c.RPCUserType != "" && c.ExchangeType != ExchangeTopic {
		return c, fmt.Errorf("wsbridge: rpc_user_type is only valid with exchange_type=topic")
	}

	return c, nil
}

func firstNonEmptyEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// bindKey computes the topic exchange_bind_key for RPC routing (§4.7):
// "<robot_name>.*" for clients, "*.<service_name>" for services.
func (c Config) bindKey() string {
	switch c.RPCUserType {
	case RPCClient:
		return c.RobotName + ".*"
	case RPCService:
		return "*." + c.ServiceName
	default:
		return ""
	}
}

// controlPacket is the first JSON message sent after opening the connection.
type controlPacket struct {
	Command         string `json:"command"`
	Exchange        string `json:"exchange"`
	ExchangeType    string `json:"exchange_type"`
	RobotName       string `json:"robot_name"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ExchangeBindKey string `json:"exchange_bind_key,omitempty"`
}

func (c Config) controlPacket() controlPacket {
	return controlPacket{
		Command:         string(c.CommandType),
		Exchange:        c.Exchange,
		ExchangeType:    string(c.ExchangeType),
		RobotName:       c.RobotName,
		Username:        c.Username,
		Password:        c.Password,
		ExchangeBindKey: c.bindKey(),
	}
}
