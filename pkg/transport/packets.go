package transport

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"
)

// bitfieldOkToMQTT marks a payload as allowed to be uplinked to MQTT by gateways.
const bitfieldOkToMQTT uint32 = 1

const maxHopLimit = 7

// Matches encrypted channel topics: {root}/2/e/{channel}/{gateway}
var topicRegex = regexp.MustCompile(`^(.+)/2/e/([^/]+)/(![a-f0-9]{8})$`)

type topicParts struct {
	Root    string
	Channel string
	Gateway string
}

func parseTopic(topic string) (topicParts, bool) {
	m := topicRegex.FindStringSubmatch(topic)
	if m == nil {
		return topicParts{}, false
	}
	return topicParts{Root: m[1], Channel: m[2], Gateway: m[3]}, true
}

func channelTopic(root, channel, gateway string) string {
	return fmt.Sprintf("%s/2/e/%s/%s", root, channel, gateway)
}

// packetIDs generates packet IDs the way the firmware does: a rolling counter in
// the low bits mixed with the clock.
type packetIDs struct {
	mu      sync.Mutex
	counter uint32
}

func (p *packetIDs) next() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counter++
	p.counter = (p.counter & 0x3FF) | (uint32(time.Now().UnixNano()&0x3FFFFF) << 10)
	return p.counter
}

// hopValues returns HopStart and HopLimit for a packet we originate. Sending
// through MQTT uses up one hop.
func hopValues(configured uint32) (hopStart, hopLimit uint32) {
	if configured == 0 {
		configured = 3
	}
	if configured > maxHopLimit {
		configured = maxHopLimit
	}
	hopStart = configured
	hopLimit = hopStart - 1
	return
}

func newData(port pb.PortNum, payload []byte) *pb.Data {
	bitfield := bitfieldOkToMQTT
	return &pb.Data{
		Portnum:  port,
		Payload:  payload,
		Bitfield: &bitfield,
	}
}
