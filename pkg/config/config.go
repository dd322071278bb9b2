package config

import (
	"time"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
)

type Configuration struct {
	MeshSettings MeshSettings
	MQTT         MQTTSettings
	Broker       BrokerSettings
	Database     struct {
		// Path of the SQLite chat archive. Empty disables the archive.
		Path         string
		HistoryLimit int
	}
	Web struct {
		ListenAddr string
	}
	Game struct {
		SendTimeout time.Duration
	}
	Log struct {
		Level  string
		Format string
	}
	NodeCacheTTL time.Duration
}

type MeshSettings struct {
	MqttRoot string
	Channels []MeshChannelDef
	SelfNode struct {
		NodeID    meshtastic.NodeID
		LongName  string
		ShortName string
		// PrivateKey is the base64 X25519 key used for PKI direct messages.
		PrivateKey string
		Latitude   float64
		Longitude  float64
		HopLimit   uint32
	}
}

type MeshChannelDef struct {
	Name string
	Key  string
}

type MQTTSettings struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

type BrokerSettings struct {
	Enabled        bool
	ListenAddr     string
	AllowAnonymous bool
	Users          []BrokerUser
}

// BrokerUser is a broker login; the hash and salt come from cmd/genpass.
type BrokerUser struct {
	Username     string
	PasswordHash string
	Salt         string
}
