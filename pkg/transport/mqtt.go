package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jellydator/ttlcache/v3"
	"github.com/kabili207/meshtastic-go/core/crypto"
	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/mesh-chess/pkg/config"
	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/meshtastic/radio"
	"github.com/kabili207/mesh-chess/pkg/metrics"
	"github.com/kabili207/mesh-chess/pkg/models"
)

const (
	duplicateTTL     = 10 * time.Minute
	nodeInfoInterval = 3 * time.Hour
	defaultTimeout   = 10 * time.Second
)

var (
	ErrNotConnected   = errors.New("not connected to mqtt broker")
	ErrUnknownChannel = errors.New("unknown channel")
)

type Options struct {
	Mesh    config.MeshSettings
	MQTT    config.MQTTSettings
	NodeDB  *NodeDB
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// MQTTTransport exchanges Meshtastic packets with the mesh through an MQTT
// broker that gateways uplink to.
type MQTTTransport struct {
	mesh     config.MeshSettings
	mqttCfg  config.MQTTSettings
	self     meshtastic.NodeID
	channels *keyring
	nodes    *NodeDB
	metrics  *metrics.Metrics
	log      *slog.Logger

	privateKey []byte
	publicKey  []byte

	ids  packetIDs
	seen *ttlcache.Cache[uint64, struct{}]

	client  paho.Client
	publish func(ctx context.Context, topic string, payload []byte) error

	handlerLock sync.RWMutex
	handler     func(pkt *pb.MeshPacket)
}

func New(opts Options) (*MQTTTransport, error) {
	kr, err := newKeyring(opts.Mesh.Channels)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	nodes := opts.NodeDB
	if nodes == nil {
		nodes = NewNodeDB(nil, nil, opts.Metrics, log)
	}

	t := &MQTTTransport{
		mesh:     opts.Mesh,
		mqttCfg:  opts.MQTT,
		self:     opts.Mesh.SelfNode.NodeID,
		channels: kr,
		nodes:    nodes,
		metrics:  opts.Metrics,
		log:      log.With("component", "transport"),
		seen: ttlcache.New[uint64, struct{}](
			ttlcache.WithTTL[uint64, struct{}](duplicateTTL),
			ttlcache.WithDisableTouchOnHit[uint64, struct{}](),
		),
	}
	t.publish = t.pahoPublish

	priv, err := opts.Mesh.PrivateKey()
	if err != nil {
		return nil, err
	}
	if priv != nil {
		pub, err := radio.PublicKey(priv)
		if err != nil {
			return nil, fmt.Errorf("derive public key: %w", err)
		}
		t.privateKey, t.publicKey = priv, pub
	}

	self := models.Node{
		ID:        t.self,
		LongName:  opts.Mesh.SelfNode.LongName,
		ShortName: opts.Mesh.SelfNode.ShortName,
		HwModel:   pb.HardwareModel_PRIVATE_HW.String(),
		LastHeard: time.Now(),
		Position:  opts.Mesh.SelfPosition(),
		PublicKey: t.publicKey,
	}
	t.nodes.Put(self)

	return t, nil
}

func (t *MQTTTransport) LocalNode() meshtastic.NodeID {
	return t.self
}

func (t *MQTTTransport) Nodes() map[meshtastic.NodeID]models.Node {
	return t.nodes.Nodes()
}

func (t *MQTTTransport) OnPacketReceived(fn func(pkt *pb.MeshPacket)) {
	t.handlerLock.Lock()
	defer t.handlerLock.Unlock()
	t.handler = fn
}

func (t *MQTTTransport) timeout() time.Duration {
	if t.mqttCfg.ConnectTimeout > 0 {
		return t.mqttCfg.ConnectTimeout
	}
	return defaultTimeout
}

func (t *MQTTTransport) subscription() string {
	return t.mesh.MqttRoot + "/2/e/+/+"
}

// Run connects to the broker and blocks until ctx is cancelled.
func (t *MQTTTransport) Run(ctx context.Context) error {
	clientID := t.mqttCfg.ClientID
	if clientID == "" {
		clientID = "mesh-chess-" + t.self.String()
	}

	opts := paho.NewClientOptions().
		AddBroker(t.mqttCfg.Broker).
		SetClientID(clientID).
		SetUsername(t.mqttCfg.Username).
		SetPassword(t.mqttCfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(t.timeout()).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.log.Warn("lost connection to mqtt broker", "error", err)
		})

	t.client = paho.NewClient(opts)
	tok := t.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("connect to %s: %w", t.mqttCfg.Broker, err)
		}
	case <-ctx.Done():
		t.client.Disconnect(250)
		return nil
	}

	go t.seen.Start()
	defer t.seen.Stop()

	ticker := time.NewTicker(nodeInfoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.log.Info("disconnecting from mqtt broker")
			t.client.Disconnect(250)
			return nil
		case <-ticker.C:
			t.announce(ctx)
		}
	}
}

func (t *MQTTTransport) onConnect(c paho.Client) {
	topic := t.subscription()
	t.log.Info("connected to mqtt broker", "broker", t.mqttCfg.Broker, "topic", topic)
	tok := c.Subscribe(topic, 0, func(_ paho.Client, m paho.Message) {
		t.handleMessage(m.Topic(), m.Payload())
	})
	go func() {
		if tok.WaitTimeout(t.timeout()) && tok.Error() != nil {
			t.log.Error("failed to subscribe", "topic", topic, "error", tok.Error())
		}
	}()
	go t.announce(context.Background())
}

func (t *MQTTTransport) pahoPublish(ctx context.Context, topic string, payload []byte) error {
	if t.client == nil || !t.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	tok := t.client.Publish(topic, 0, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleMessage decodes one envelope received from the broker and hands the
// packet to the registered handler when it is for us or the whole channel.
func (t *MQTTTransport) handleMessage(topic string, payload []byte) {
	parts, ok := parseTopic(topic)
	if !ok || parts.Root != t.mesh.MqttRoot {
		return
	}

	var env pb.ServiceEnvelope
	if err := proto.Unmarshal(payload, &env); err != nil {
		t.log.Debug("failed to decode ServiceEnvelope", "topic", topic, "error", err)
		return
	}
	pkt := env.GetPacket()
	if pkt == nil || pkt.GetFrom() == 0 {
		return
	}
	from := meshtastic.NodeID(pkt.GetFrom())
	if from == t.self || parts.Gateway == t.self.String() {
		return
	}

	key := uint64(pkt.GetFrom())<<32 | uint64(pkt.GetId())
	if _, found := t.seen.GetOrSet(key, struct{}{}); found {
		t.metrics.RecordDuplicate()
		return
	}

	data, index, ok := t.decode(parts.Channel, pkt)
	if !ok {
		return
	}
	pkt.Channel = index
	pkt.PayloadVariant = &pb.MeshPacket_Decoded{Decoded: data}

	t.nodes.Heard(pkt)
	t.updateNodeDB(pkt, data)

	to := meshtastic.NodeID(pkt.GetTo())
	if !to.IsBroadcast() && to != t.self {
		return
	}

	t.handlerLock.RLock()
	handler := t.handler
	t.handlerLock.RUnlock()
	if handler != nil {
		handler(pkt)
	}
}

// decode returns the packet's payload and the local index of the channel it arrived on.
func (t *MQTTTransport) decode(channelName string, pkt *pb.MeshPacket) (*pb.Data, uint32, bool) {
	if channelName == pkiChannel {
		data, err := t.decodePKI(pkt)
		if err != nil {
			t.log.Debug("failed to decrypt PKI packet", "from", meshtastic.NodeID(pkt.GetFrom()), "error", err)
			return nil, 0, false
		}
		return data, t.channels.primary().Index, true
	}

	ch, ok := t.channels.name(channelName)
	if !ok {
		return nil, 0, false
	}
	if decoded := pkt.GetDecoded(); decoded != nil {
		return decoded, ch.Index, true
	}
	data, err := crypto.TryDecode(pkt, ch.Key)
	if err != nil || data == nil {
		t.log.Debug("failed to decrypt packet", "channel", channelName, "error", err)
		return nil, 0, false
	}
	return data, ch.Index, true
}

func (t *MQTTTransport) decodePKI(pkt *pb.MeshPacket) (*pb.Data, error) {
	if meshtastic.NodeID(pkt.GetTo()) != t.self {
		return nil, errors.New("not addressed to us")
	}
	if t.privateKey == nil {
		return nil, errors.New("no private key configured")
	}
	senderKey := t.nodes.PublicKey(meshtastic.NodeID(pkt.GetFrom()))
	if senderKey == nil && len(pkt.GetPublicKey()) == 32 {
		senderKey = pkt.GetPublicKey()
	}
	if senderKey == nil {
		return nil, errors.New("sender public key unknown")
	}
	plain, err := radio.DecryptCurve25519(pkt.GetEncrypted(), t.privateKey, senderKey, pkt.GetId(), pkt.GetFrom())
	if err != nil {
		return nil, err
	}
	var data pb.Data
	if err := proto.Unmarshal(plain, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (t *MQTTTransport) updateNodeDB(pkt *pb.MeshPacket, data *pb.Data) {
	from := meshtastic.NodeID(pkt.GetFrom())
	switch data.GetPortnum() {
	case pb.PortNum_NODEINFO_APP:
		var user pb.User
		if err := proto.Unmarshal(data.GetPayload(), &user); err == nil {
			t.nodes.UpdateUser(from, &user)
			if data.GetWantResponse() && meshtastic.NodeID(pkt.GetTo()) == t.self {
				go t.replyNodeInfo(from, pkt.GetId(), pkt.GetChannel())
			}
		}
	case pb.PortNum_POSITION_APP:
		var pos pb.Position
		if err := proto.Unmarshal(data.GetPayload(), &pos); err == nil {
			t.nodes.UpdatePosition(from, &pos)
		}
	case pb.PortNum_TELEMETRY_APP:
		var tel pb.Telemetry
		if err := proto.Unmarshal(data.GetPayload(), &tel); err == nil {
			t.nodes.UpdateTelemetry(from, &tel)
		}
	}
}

// SendText sends a text message to a node, or to the whole channel when to is the broadcast address.
func (t *MQTTTransport) SendText(ctx context.Context, text string, to meshtastic.NodeID, channel uint32) error {
	ch, ok := t.channels.index(channel)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
	}
	return t.send(ctx, newData(pb.PortNum_TEXT_MESSAGE_APP, []byte(text)), to, ch, t.mesh.SelfNode.HopLimit)
}

// SendTraceRequest sends a route discovery request to dest on the primary channel.
func (t *MQTTTransport) SendTraceRequest(ctx context.Context, dest meshtastic.NodeID, hopLimit uint32) error {
	payload, err := proto.Marshal(&pb.RouteDiscovery{})
	if err != nil {
		return err
	}
	data := newData(pb.PortNum_TRACEROUTE_APP, payload)
	data.WantResponse = true
	if err := t.send(ctx, data, dest, t.channels.primary(), hopLimit); err != nil {
		return err
	}
	t.metrics.RecordTraceRequest()
	return nil
}

func (t *MQTTTransport) ownUser() *pb.User {
	return &pb.User{
		Id:        t.self.String(),
		LongName:  t.mesh.SelfNode.LongName,
		ShortName: t.mesh.SelfNode.ShortName,
		HwModel:   pb.HardwareModel_PRIVATE_HW,
		PublicKey: t.publicKey,
	}
}

// announce broadcasts our NODEINFO so other nodes learn our name and key.
func (t *MQTTTransport) announce(ctx context.Context) {
	payload, err := proto.Marshal(t.ownUser())
	if err != nil {
		t.log.Error("failed to marshal NODEINFO", "error", err)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()
	err = t.send(sendCtx, newData(pb.PortNum_NODEINFO_APP, payload), meshtastic.BROADCAST_ID, t.channels.primary(), t.mesh.SelfNode.HopLimit)
	if err != nil {
		t.log.Error("failed to announce node info", "error", err)
	}
}

func (t *MQTTTransport) replyNodeInfo(to meshtastic.NodeID, requestID uint32, channel uint32) {
	payload, err := proto.Marshal(t.ownUser())
	if err != nil {
		return
	}
	ch, ok := t.channels.index(channel)
	if !ok {
		ch = t.channels.primary()
	}
	data := newData(pb.PortNum_NODEINFO_APP, payload)
	data.RequestId = requestID

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout())
	defer cancel()
	if err := t.send(ctx, data, to, ch, t.mesh.SelfNode.HopLimit); err != nil {
		t.log.Error("failed to reply to node info request", "to", to, "error", err)
	}
}

// send encrypts data and publishes it. Direct messages to nodes whose public
// key we know use PKI; everything else uses the channel key.
func (t *MQTTTransport) send(ctx context.Context, data *pb.Data, to meshtastic.NodeID, ch *channel, hops uint32) error {
	raw, err := proto.Marshal(data)
	if err != nil {
		return err
	}

	packetID := t.ids.next()
	hopStart, hopLimit := hopValues(hops)
	pkt := &pb.MeshPacket{
		Id:       packetID,
		To:       uint32(to),
		From:     uint32(t.self),
		HopLimit: hopLimit,
		HopStart: hopStart,
		ViaMqtt:  true,
		RxTime:   uint32(time.Now().Unix()),
		WantAck:  !to.IsBroadcast(),
		Priority: pb.MeshPacket_DEFAULT,
		Delayed:  pb.MeshPacket_NO_DELAY,
	}

	channelName := ch.Name
	peerKey := t.nodes.PublicKey(to)
	if !to.IsBroadcast() && t.privateKey != nil && peerKey != nil && data.GetPortnum() == pb.PortNum_TEXT_MESSAGE_APP {
		encrypted, err := radio.EncryptCurve25519(raw, t.privateKey, peerKey, packetID, uint32(t.self))
		if err != nil {
			return fmt.Errorf("pki encrypt: %w", err)
		}
		channelName = pkiChannel
		pkt.Channel = 0
		pkt.PkiEncrypted = true
		pkt.PublicKey = t.publicKey
		pkt.PayloadVariant = &pb.MeshPacket_Encrypted{Encrypted: encrypted}
	} else {
		encrypted, err := crypto.XOR(raw, ch.Key, packetID, uint32(t.self))
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		pkt.Channel = ch.Hash
		pkt.PayloadVariant = &pb.MeshPacket_Encrypted{Encrypted: encrypted}
	}

	env := &pb.ServiceEnvelope{
		ChannelId: channelName,
		GatewayId: t.self.String(),
		Packet:    pkt,
	}
	rawEnv, err := proto.Marshal(env)
	if err != nil {
		return err
	}

	topic := channelTopic(t.mesh.MqttRoot, channelName, t.self.String())
	if err := t.publish(ctx, topic, rawEnv); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	t.log.Debug("sent packet", "topic", topic, "to", to, "port", data.GetPortnum().String(), "id", packetID)
	return nil
}
