// Package engine implements the Core Engine: the single logical task
// that owns every peer session, in-flight delivery, partially-assembled
// message, and connection FSM, and reacts to four typed streams
// (Command, Event, Timer, Shutdown) with a deterministic read-compute-
// write-emit step per input.
package engine

import (
	"time"

	"github.com/noisymesh/bitchat/wire"
)

// Command is a request from the frontend. The set is closed; Run ignores
// any Command value it doesn't recognize rather than panicking, per the
// forward-compatibility contract in spec §6.
type Command interface{ isCommand() }

type CommandSendMessage struct {
	Recipient wire.PeerID
	Content   []byte
}

type CommandConnectToPeer struct{ Peer wire.PeerID }
type CommandStartDiscovery struct{ Transport string }
type CommandStopDiscovery struct{ Transport string }
type CommandDisconnectFromPeer struct{ Peer wire.PeerID }
type CommandPauseTransport struct{ Transport string }
type CommandResumeTransport struct{ Transport string }
type CommandShutdown struct{}

// CommandListFavorites and the report queries are round-tripped
// request/response messages: the frontend reads engine-owned state
// through the same single-writer task rather than a shared lock.
type CommandListFavorites struct{}
type CommandSetFavorite struct {
	Peer     wire.PeerID
	Favorite bool
}
type CommandMessageStatusReport struct{ MessageID [32]byte }
type CommandPeerSessionReport struct{ Peer wire.PeerID }

func (CommandSendMessage) isCommand()        {}
func (CommandConnectToPeer) isCommand()       {}
func (CommandStartDiscovery) isCommand()      {}
func (CommandStopDiscovery) isCommand()       {}
func (CommandDisconnectFromPeer) isCommand()  {}
func (CommandPauseTransport) isCommand()      {}
func (CommandResumeTransport) isCommand()     {}
func (CommandShutdown) isCommand()            {}
func (CommandListFavorites) isCommand()       {}
func (CommandSetFavorite) isCommand()         {}
func (CommandMessageStatusReport) isCommand() {}
func (CommandPeerSessionReport) isCommand()   {}

// Event is a notification from a transport.
type Event interface{ isEvent() }

type EventPeerDiscovered struct {
	Peer      wire.PeerID
	Transport string
}

type EventBitchatPacketReceived struct {
	Sender    wire.PeerID
	Transport string
	Raw       []byte
}

type EventMessageReceived struct {
	Sender    wire.PeerID
	Transport string
	Raw       []byte
}

type EventConnectionEstablished struct {
	Peer      wire.PeerID
	Transport string
}

type EventConnectionLost struct {
	Peer      wire.PeerID
	Transport string
	Reason    string
}

type EventTransportError struct {
	Transport string
	Reason    string
}

func (EventPeerDiscovered) isEvent()         {}
func (EventBitchatPacketReceived) isEvent()  {}
func (EventMessageReceived) isEvent()        {}
func (EventConnectionEstablished) isEvent()  {}
func (EventConnectionLost) isEvent()         {}
func (EventTransportError) isEvent()         {}

// Timer is a notification from the internal scheduler.
type Timer interface{ isTimer() }

type TimerRetryDue struct{ At time.Time }
type TimerHandshakeTimeout struct{ At time.Time }
type TimerSessionIdle struct{ At time.Time }
type TimerReassemblyTimeout struct{ At time.Time }
type TimerRekeyDue struct{ Peer wire.PeerID }

func (TimerRetryDue) isTimer()            {}
func (TimerHandshakeTimeout) isTimer()    {}
func (TimerSessionIdle) isTimer()         {}
func (TimerReassemblyTimeout) isTimer()   {}
func (TimerRekeyDue) isTimer()            {}

// Effect is a side effect the Engine asks a transport to perform.
type Effect interface{ isEffect() }

type EffectSendBitchatPacket struct {
	Peer      wire.PeerID
	Transport string
	Raw       []byte
}

type EffectBroadcastBitchatPacket struct {
	Transport string
	Raw       []byte
}

type EffectStartTransportDiscovery struct{ Transport string }
type EffectStopTransportDiscovery struct{ Transport string }
type EffectInitiateConnection struct {
	Peer      wire.PeerID
	Transport string
}
type EffectCloseConnection struct {
	Peer      wire.PeerID
	Transport string
}

func (EffectSendBitchatPacket) isEffect()      {}
func (EffectBroadcastBitchatPacket) isEffect() {}
func (EffectStartTransportDiscovery) isEffect() {}
func (EffectStopTransportDiscovery) isEffect()  {}
func (EffectInitiateConnection) isEffect()      {}
func (EffectCloseConnection) isEffect()         {}

// AppEvent is a notification surfaced to the frontend.
type AppEvent interface{ isAppEvent() }

type AppEventMessageReceived struct {
	Sender  wire.PeerID
	Content []byte
}

type AppEventPeerDiscovered struct{ Peer wire.PeerID }

type AppEventTransportStatusChanged struct {
	Transport string
	Active    bool
}

type AppEventSystemError struct {
	Component string
	Reason    string
}

type AppEventMessageStatusReport struct {
	MessageID [32]byte
	Status    string
}

type AppEventPeerSessionReport struct {
	Peer  wire.PeerID
	State string
}

type AppEventFavoritesReport struct {
	Favorites [][32]byte
}

func (AppEventMessageReceived) isAppEvent()        {}
func (AppEventPeerDiscovered) isAppEvent()         {}
func (AppEventTransportStatusChanged) isAppEvent() {}
func (AppEventSystemError) isAppEvent()            {}
func (AppEventMessageStatusReport) isAppEvent()    {}
func (AppEventPeerSessionReport) isAppEvent()      {}
func (AppEventFavoritesReport) isAppEvent()        {}
