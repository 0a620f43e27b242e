// Package gateway exposes the orchestration engine over a message-based
// websocket protocol with two client roles: agents submit action requests
// and block for the outcome; operators subscribe to pending requests,
// resolve them and manage rules.
package gateway
