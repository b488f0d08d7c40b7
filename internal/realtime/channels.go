package realtime

import "sync"

// ChannelIndex maps channel names to the ids of connections subscribed to
// them. A channel exists only while it has at least one subscriber.
type ChannelIndex struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{}
}

func NewChannelIndex() *ChannelIndex {
	return &ChannelIndex{channels: make(map[string]map[string]struct{})}
}

func (x *ChannelIndex) Subscribe(channel, connID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	subs, ok := x.channels[channel]
	if !ok {
		subs = make(map[string]struct{})
		x.channels[channel] = subs
	}
	subs[connID] = struct{}{}
}

func (x *ChannelIndex) Unsubscribe(channel, connID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.unsubscribeLocked(channel, connID)
}

// UnsubscribeAll removes connID from every listed channel in one critical
// section, so a concurrent broadcast sees either all or none of them.
func (x *ChannelIndex) UnsubscribeAll(connID string, channels []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, ch := range channels {
		x.unsubscribeLocked(ch, connID)
	}
}

func (x *ChannelIndex) unsubscribeLocked(channel, connID string) {
	subs, ok := x.channels[channel]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(x.channels, channel)
	}
}

// SubscribersOf returns a copy of the subscriber ids of channel.
func (x *ChannelIndex) SubscribersOf(channel string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	subs := x.channels[channel]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// Counts returns a snapshot of subscriber counts per channel.
func (x *ChannelIndex) Counts() map[string]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]int, len(x.channels))
	for ch, subs := range x.channels {
		out[ch] = len(subs)
	}
	return out
}

func (x *ChannelIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.channels)
}
