// Package hub is a small multiplexed pub/sub hub.
//
// A Server accepts one Transport per client (a websocket in production, an
// in-memory Pipe in tests) and wraps it in a Socket. Every socket joins the
// root namespace "/" and may join further namespaces. Namespaces keep two
// sets: transport membership and the delivery mapping used by Broadcast.
// Guards registered with Namespace.Guard decide under the namespace lock
// whether a joining socket enters delivery; RemoveIf takes a member out and
// Admit puts it back, all without affecting membership.
//
// # Frames
//
// All traffic is JSON Frames:
//
//	{"kind":"event","ns":"/","event":"authentication","ack":1,"data":{...}}
//	{"kind":"ack","ns":"/","ack":1,"data":true}
//	{"kind":"ack","ns":"/","ack":1,"error":{"message":"Missing credentials"}}
//
// Events on the root namespace go to handlers registered with Socket.On.
// Events on any other namespace are fanned out to the namespace's delivery
// mapping, provided the sender is in it.
//
// # Disconnect
//
// Socket.Disconnect leaves every namespace, waits for replies still owed to
// the client (bounded by Config.CloseGrace), sends a disconnect frame with
// the reason and closes the transport.
package hub
