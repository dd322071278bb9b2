package transport

import (
	"fmt"

	"github.com/kabili207/meshtastic-go/core/crypto"

	"github.com/kabili207/mesh-chess/pkg/config"
)

// pkiChannel is the topic channel name used for public-key encrypted direct messages.
const pkiChannel = "PKI"

type channel struct {
	Index uint32
	Name  string
	Key   []byte
	Hash  uint32
}

// keyring indexes the configured channels by local index and by topic name.
type keyring struct {
	byIndex []*channel
	byName  map[string]*channel
}

func newKeyring(defs []config.MeshChannelDef) (*keyring, error) {
	kr := &keyring{byName: make(map[string]*channel)}
	for i, def := range defs {
		key, err := def.ParseKey()
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", def.Name, err)
		}
		hash, err := crypto.ChannelHash(def.Name, key)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", def.Name, err)
		}
		ch := &channel{Index: uint32(i), Name: def.Name, Key: key, Hash: hash}
		kr.byIndex = append(kr.byIndex, ch)
		kr.byName[def.Name] = ch
	}
	if len(kr.byIndex) == 0 {
		return nil, fmt.Errorf("no channels configured")
	}
	return kr, nil
}

func (kr *keyring) index(i uint32) (*channel, bool) {
	if int(i) >= len(kr.byIndex) {
		return nil, false
	}
	return kr.byIndex[i], true
}

func (kr *keyring) name(n string) (*channel, bool) {
	ch, ok := kr.byName[n]
	return ch, ok
}

func (kr *keyring) primary() *channel {
	return kr.byIndex[0]
}
