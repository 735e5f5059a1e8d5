// Package realtime adapts gorilla/websocket connections into push
// subscribers.
//
// A Conn runs a read loop that only tracks liveness through pongs and a
// write loop that drains a bounded send buffer and pings the peer. Send
// never blocks: a peer that cannot keep up is closed with ErrBufferFull and
// its OnClose hook fires once.
package realtime
