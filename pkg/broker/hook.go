package broker

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/packets"
	"google.golang.org/protobuf/proto"

	pwauth "github.com/kabili207/mesh-chess/pkg/auth"
	"github.com/kabili207/mesh-chess/pkg/config"
	"github.com/kabili207/mesh-chess/pkg/metrics"
)

const meshDevicePattern = `^(?:Meshtastic(Android|Apple)MqttProxy-)?(![0-9a-f]{8})$`

var meshDeviceRegex = regexp.MustCompile(meshDevicePattern)

// MeshHookOptions contains configuration settings for the hook.
type MeshHookOptions struct {
	// Root is the topic prefix clients may use, e.g. "msh/US".
	Root           string
	Users          []config.BrokerUser
	AllowAnonymous bool

	// LocalUser and LocalPassword let our own MQTT client in without a hashed entry.
	LocalUser     string
	LocalPassword string

	Metrics *metrics.Metrics
}

// ClientDetails describes a connected broker client.
type ClientDetails struct {
	ClientID  string    `json:"client_id"`
	Username  string    `json:"username,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	ProxyType string    `json:"proxy_type,omitempty"`
	Address   string    `json:"address"`
	Anonymous bool      `json:"anonymous"`
	Connected time.Time `json:"connected"`
}

// IsMeshDevice reports whether the client ID names a Meshtastic node.
func (c ClientDetails) IsMeshDevice() bool {
	return c.NodeID != ""
}

type MeshHook struct {
	mqtt.HookBase
	config       *MeshHookOptions
	filter       auth.RString
	users        map[string]config.BrokerUser
	knownClients map[string]*ClientDetails
	clientLock   sync.RWMutex
}

func (h *MeshHook) ID() string {
	return "mesh-hook"
}

func (h *MeshHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnConnect,
		mqtt.OnDisconnect,
		mqtt.OnSubscribed,
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *MeshHook) Init(config any) error {
	opts, ok := config.(*MeshHookOptions)
	if !ok || opts == nil {
		return mqtt.ErrInvalidConfigType
	}
	if opts.Root == "" {
		return fmt.Errorf("mesh hook: empty topic root")
	}

	h.config = opts
	h.filter = auth.RString(strings.TrimSuffix(opts.Root, "/") + "/#")
	h.users = make(map[string]config.BrokerUser, len(opts.Users))
	for _, u := range opts.Users {
		h.users[u.Username] = u
	}
	h.knownClients = make(map[string]*ClientDetails)

	if h.Log != nil {
		h.Log.Info("initialised", "root", opts.Root, "users", len(h.users), "anonymous", opts.AllowAnonymous)
	}
	return nil
}

func (h *MeshHook) validateUser(user, pass string) bool {
	if user == "" {
		return false
	}
	if h.config.LocalUser != "" && user == h.config.LocalUser {
		return pass == h.config.LocalPassword
	}
	u, ok := h.users[user]
	if !ok {
		return false
	}
	return pwauth.VerifyPassword(pass, u.Salt, u.PasswordHash)
}

// OnConnectAuthenticate accepts configured users and, when allowed, anonymous clients.
func (h *MeshHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	user := string(pk.Connect.Username)
	anonymous := user == ""

	if anonymous && !h.config.AllowAnonymous {
		h.Log.Info("rejected anonymous client", "client", cl.ID, "remote", cl.Net.Remote)
		return false
	}
	if !anonymous && !h.validateUser(user, string(pk.Connect.Password)) {
		h.Log.Info("client failed authentication check", "username", user, "client", cl.ID, "remote", cl.Net.Remote)
		return false
	}

	nodeID, proxyType := "", ""
	if m := meshDeviceRegex.FindStringSubmatch(cl.ID); m != nil {
		proxyType = m[1]
		nodeID = m[2]
	}

	h.clientLock.Lock()
	h.knownClients[cl.ID] = &ClientDetails{
		ClientID:  cl.ID,
		Username:  user,
		NodeID:    nodeID,
		ProxyType: proxyType,
		Address:   cl.Net.Remote,
		Anonymous: anonymous,
		Connected: time.Now(),
	}
	count := len(h.knownClients)
	h.clientLock.Unlock()

	h.config.Metrics.SetBrokerClients(count)
	h.Log.Info("client authenticated", "username", user, "client", cl.ID, "node", nodeID, "proxy", proxyType)
	return true
}

// OnACLCheck limits clients to the mesh topic tree. Anonymous clients may only read.
func (h *MeshHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if topic == "will" || topic == "/will" {
		return true
	}
	if !h.filter.FilterMatches(topic) {
		return false
	}

	h.clientLock.RLock()
	cd, ok := h.knownClients[cl.ID]
	h.clientLock.RUnlock()
	if !ok {
		h.Log.Warn("unknown client in ACL check", "client", cl.ID, "topic", topic)
		return false
	}

	if cd.Anonymous {
		return !write
	}
	return true
}

func (h *MeshHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.Log.Info("client connected", "client", cl.ID)
	return nil
}

func (h *MeshHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.clientLock.Lock()
	delete(h.knownClients, cl.ID)
	count := len(h.knownClients)
	h.clientLock.Unlock()

	h.config.Metrics.SetBrokerClients(count)
	if err != nil {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire, "error", err)
	} else {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire)
	}
}

func (h *MeshHook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	h.Log.Debug(fmt.Sprintf("subscribed qos=%v", reasonCodes), "client", cl.ID, "filters", pk.Filters)
}

// OnPublish rejects anything under an encrypted-channel topic that is not a ServiceEnvelope.
func (h *MeshHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if !strings.HasPrefix(pk.TopicName, h.config.Root+"/2/e/") {
		return pk, nil
	}

	var env pb.ServiceEnvelope
	if err := proto.Unmarshal(pk.Payload, &env); err != nil || env.GetPacket() == nil {
		h.Log.Warn("received non-mesh payload from client", "client", cl.ID, "topic", pk.TopicName)
		return pk, errors.Join(packets.ErrRejectPacket, err)
	}
	return pk, nil
}

// Clients returns the connected clients ordered by client ID.
func (h *MeshHook) Clients() []ClientDetails {
	h.clientLock.RLock()
	defer h.clientLock.RUnlock()

	out := make([]ClientDetails, 0, len(h.knownClients))
	for _, c := range h.knownClients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}
