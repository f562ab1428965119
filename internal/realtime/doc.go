// Package realtime defines the event protocol spoken over chat websocket
// connections.
//
// Every frame is a JSON envelope:
//
//	{"event": "send-message", "data": {"roomId": "...", "message": {...}}}
//
// Inbound payload structs are validated with go-playground/validator when
// decoded; a payload that fails validation surfaces as chaterr.ErrValidation.
// Outbound payload structs implement Event so the broadcaster can encode
// them once per fan-out.
//
// Peer is the minimal connection contract shared by the presence registry
// and the room broadcaster.
package realtime
