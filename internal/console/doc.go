// Package console holds the client side of the chat console: the durable
// session cache, the session lifecycle manager, and the message dispatcher
// that routes each assistant either to the backend chat API or to an
// external workflow webhook.
//
// Remote failures never interrupt a conversation. They are turned into
// assistant-role error replies so the session log records them. Only a
// missing session id (an INTERNAL session the backend refused to create) is
// surfaced as an error.
package console
