// Package gateway orchestrates the chat-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the chat server. It
// owns the store, the presence registry, the room broadcaster, the
// read-receipt tracker and the conversation service, and serves them over
// one HTTP listener.
//
// # Connection Lifecycle
//
// A websocket request is authenticated before it is upgraded; a missing or
// invalid token gets a 401 and no connection. After upgrade:
//
//  1. The connection is registered with presence and joins its user room.
//  2. If it is the identity's first connection, every other connection
//     receives user-online.
//  3. Inbound frames are decoded and dispatched by event name. Failures are
//     reported to that connection alone as an error event; the connection
//     stays open.
//  4. When the read pump ends, the connection leaves every room and is
//     deregistered. The identity's last connection triggers user-offline.
//
// # Client Events
//
//	join-room      subscribe to a conversation the identity participates in
//	leave-room     unsubscribe
//	send-message   persist, then broadcast receive-message to the room
//	typing         relay user-typing to the rest of the room
//	viewing-chat   relay user-viewing to the rest of the room
//	message-read   record a read receipt, broadcast message-read-receipt
//	mark-all-read  record receipts for every unread message in a room
//	set-status     switch between online and away
//
// # HTTP API
//
// All /api routes require a bearer token:
//
//	POST   /api/conversations                           create or get a direct conversation
//	GET    /api/conversations                           list the caller's conversations
//	POST   /api/groups                                  create a group
//	GET    /api/conversations/{id}                      get one conversation
//	DELETE /api/conversations/{id}                      delete a conversation
//	POST   /api/conversations/{id}/participants         add a group member
//	DELETE /api/conversations/{id}/participants/{user}  remove a group member
//	GET    /api/conversations/{id}/messages             paged history
//	POST   /api/conversations/{id}/messages             send a message
//	POST   /api/conversations/{id}/read                 mark everything read
//	DELETE /api/messages/{id}                           delete a message
//	POST   /api/messages/{id}/read                      mark one message read
//	GET    /api/unread                                  unread count
//	GET    /api/presence                                online user ids
//	GET    /api/users/{id}                              one user's presence
//
// /health and /health/ready are unauthenticated.
package gateway
