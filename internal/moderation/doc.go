// Package moderation provides the stateless content rules used by the
// moderation engine and the payloads exchanged with the chat transport.
// Comments and edits arrive as events; every processed event yields exactly
// one Decision for the transport to carry out.
package moderation
