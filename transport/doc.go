// Package transport multiplexes real-time web client connections per
// activity.
//
// The Adapter assigns every connection an ID of the form "conn-N" that is
// unique for the adapter's lifetime, forwards connect, close and message
// callbacks to the owning activity's Handler, and fans JSON payloads out to
// every open connection of an activity. A connection whose send fails is
// closed and dropped; the other connections still receive the payload.
//
// Endpoint serves the websocket side of the adapter using
// github.com/gorilla/websocket.
package transport
