// Package server is the network edge of the relay.
//
// It upgrades browser connections to WebSockets, runs one read pump and one
// write pump per connection, and hands inbound frames to a hub.Session. It
// also serves the health check, the presence lookup, the write-path
// notification endpoints and a small test page.
package server
