package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kabili207/meshtastic-go/core/crypto"
	"github.com/spf13/viper"

	"github.com/kabili207/mesh-chess/pkg/models"
)

const (
	EnvPrefix = "MESHCHESS"

	defaultMqttRoot       = "msh/US"
	defaultChannelName    = "LongFast"
	defaultChannelKey     = "AQ=="
	defaultMQTTBroker     = "tcp://mqtt.meshtastic.org:1883"
	defaultMQTTUsername   = "meshdev"
	defaultMQTTPassword   = "large4cats"
	defaultConnectTimeout = 30 * time.Second
	defaultBrokerAddr     = ":1883"
	defaultWebAddr        = ":8080"
	defaultHistoryLimit   = 200
	defaultSendTimeout    = 30 * time.Second
	defaultNodeCacheTTL   = 30 * time.Second
	defaultHopLimit       = 3
	maxHopLimit           = 7
)

// Load reads configuration from path (if any) and the environment. Environment
// variables are prefixed with MESHCHESS_ and override file values, for example
// MESHCHESS_MQTT_PASSWORD.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("meshsettings.mqttroot", defaultMqttRoot)
	v.SetDefault("meshsettings.channels", []map[string]any{
		{"name": defaultChannelName, "key": defaultChannelKey},
	})
	v.SetDefault("meshsettings.selfnode.nodeid", "")
	v.SetDefault("meshsettings.selfnode.longname", "Mesh Chess")
	v.SetDefault("meshsettings.selfnode.shortname", "CHES")
	v.SetDefault("meshsettings.selfnode.privatekey", "")
	v.SetDefault("meshsettings.selfnode.latitude", 0.0)
	v.SetDefault("meshsettings.selfnode.longitude", 0.0)
	v.SetDefault("meshsettings.selfnode.hoplimit", defaultHopLimit)
	v.SetDefault("mqtt.broker", defaultMQTTBroker)
	v.SetDefault("mqtt.clientid", "")
	v.SetDefault("mqtt.username", defaultMQTTUsername)
	v.SetDefault("mqtt.password", defaultMQTTPassword)
	v.SetDefault("mqtt.connecttimeout", defaultConnectTimeout.String())
	v.SetDefault("broker.enabled", false)
	v.SetDefault("broker.listenaddr", defaultBrokerAddr)
	v.SetDefault("broker.allowanonymous", false)
	v.SetDefault("database.path", "")
	v.SetDefault("database.historylimit", defaultHistoryLimit)
	v.SetDefault("web.listenaddr", defaultWebAddr)
	v.SetDefault("game.sendtimeout", defaultSendTimeout.String())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("nodecachettl", defaultNodeCacheTTL.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Configuration
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings Load cannot default and clamps the hop limit.
func (c *Configuration) Validate() error {
	var errs []error

	ms := &c.MeshSettings
	if ms.MqttRoot == "" {
		errs = append(errs, errors.New("meshsettings.mqttroot is required"))
	}
	if len(ms.Channels) == 0 {
		errs = append(errs, errors.New("at least one channel must be configured"))
	}
	seen := make(map[string]bool)
	for i, ch := range ms.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("channel %d has no name", i))
			continue
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Errorf("channel %q is configured twice", ch.Name))
		}
		seen[ch.Name] = true
		if _, err := ch.ParseKey(); err != nil {
			errs = append(errs, fmt.Errorf("channel %q: invalid key: %w", ch.Name, err))
		}
	}

	if ms.SelfNode.NodeID == 0 || ms.SelfNode.NodeID.IsBroadcast() {
		errs = append(errs, errors.New("meshsettings.selfnode.nodeid must be set to this node's id"))
	}
	if _, err := ms.PrivateKey(); err != nil {
		errs = append(errs, err)
	}
	if ms.SelfNode.HopLimit == 0 {
		ms.SelfNode.HopLimit = defaultHopLimit
	} else if ms.SelfNode.HopLimit > maxHopLimit {
		ms.SelfNode.HopLimit = maxHopLimit
	}

	if c.MQTT.Broker == "" && !c.Broker.Enabled {
		errs = append(errs, errors.New("mqtt.broker is required unless the embedded broker is enabled"))
	}
	for _, u := range c.Broker.Users {
		if u.Username == "" || u.PasswordHash == "" || u.Salt == "" {
			errs = append(errs, fmt.Errorf("broker user %q needs a username, passwordhash and salt", u.Username))
		}
	}

	if c.Database.HistoryLimit <= 0 {
		c.Database.HistoryLimit = defaultHistoryLimit
	}
	if c.Game.SendTimeout <= 0 {
		c.Game.SendTimeout = defaultSendTimeout
	}
	if c.MQTT.ConnectTimeout <= 0 {
		c.MQTT.ConnectTimeout = defaultConnectTimeout
	}
	if c.NodeCacheTTL <= 0 {
		c.NodeCacheTTL = defaultNodeCacheTTL
	}

	return errors.Join(errs...)
}

// PrivateKey decodes the configured PKI key. A nil key means PKI is disabled.
func (m MeshSettings) PrivateKey() ([]byte, error) {
	if m.SelfNode.PrivateKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(m.SelfNode.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("meshsettings.selfnode.privatekey: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("meshsettings.selfnode.privatekey must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// ParseKey decodes the channel PSK. An empty key is the default LongFast key.
func (c MeshChannelDef) ParseKey() ([]byte, error) {
	if c.Key == "" {
		return crypto.DefaultKey, nil
	}
	return crypto.ParseKey(c.Key)
}

// ChannelIndex returns the local index of the named channel.
func (m MeshSettings) ChannelIndex(name string) (uint32, bool) {
	for i, ch := range m.Channels {
		if ch.Name == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// ChannelInfos describes the configured channels; the first one is the primary.
func (m MeshSettings) ChannelInfos() []models.ChannelInfo {
	out := make([]models.ChannelInfo, len(m.Channels))
	for i, ch := range m.Channels {
		role := "SECONDARY"
		if i == 0 {
			role = "PRIMARY"
		}
		out[i] = models.ChannelInfo{Index: uint32(i), Name: ch.Name, Role: role}
	}
	return out
}

// SelfPosition is the configured location of this node, or nil when unset.
func (m MeshSettings) SelfPosition() *models.Position {
	if m.SelfNode.Latitude == 0 && m.SelfNode.Longitude == 0 {
		return nil
	}
	return &models.Position{Latitude: m.SelfNode.Latitude, Longitude: m.SelfNode.Longitude}
}
