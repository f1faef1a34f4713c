// Package authgate keeps hub connections silent until they authenticate.
//
// # Suppression
//
// Install registers an admission guard on every namespace the hub knows
// about and on every namespace created later. A socket that joins a
// namespace while unauthenticated becomes a member but never enters the
// namespace's delivery mapping, so it neither receives broadcasts nor may
// publish. Successful authentication re-admits the socket to every
// namespace it joined.
//
// # Handshake
//
// Clients send an "authentication" event with their credentials and an ack
// id. The gate then runs:
//
//	verify -> emit "authenticated" (await ack) -> PostAuthenticate -> ack(nil, payload)
//
// or, on failure:
//
//	emit "unauthorized" {message} (await ack) -> disconnect "unauthorized" -> ack(error)
//
// The completion callback convention is Done(err, payload): exactly one of
// the two is set. A second "authentication" event restarts the handshake,
// suppressing the socket again before the new credentials are checked.
//
// # Watchdog
//
// Each connection gets a one-shot timer (DefaultTimeout unless configured).
// If it fires while the socket is still unauthenticated the socket is
// disconnected with reason "unauthorized". NoTimeout disables it.
package authgate
