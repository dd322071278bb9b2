package components

import "sort"

// SortChats puts channel logs first in index order, then direct chats with the
// most recent activity first.
func SortChats(chats []ChatData) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i], chats[j]
		if a.IsDirect != b.IsDirect {
			return !a.IsDirect
		}
		if !a.IsDirect {
			return a.Key.Channel < b.Key.Channel
		}
		if a.LastMessage == nil || b.LastMessage == nil {
			return b.LastMessage == nil && a.LastMessage != nil
		}
		if !a.LastMessage.Time.Equal(b.LastMessage.Time) {
			return a.LastMessage.Time.After(b.LastMessage.Time)
		}
		return a.Key.Peer < b.Key.Peer
	})
}
