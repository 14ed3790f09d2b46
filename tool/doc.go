// Package tool defines the tool catalog served by the bridge.
//
// The package is split by concern:
//   - descriptor: the immutable description of one callable tool
//   - registry: the ordered, duplicate-rejecting catalog owned by one server
//   - discovery: the startup scan that turns collaborator providers into
//     registry entries
//   - schema: input schema resolution and argument validation
//   - http handler: a collaborator handler that forwards calls to HTTP routes
//
// The core never inspects host objects itself. Collaborators hand the scanner
// a flat list of (metadata, handler) pairs through the Provider interface.
package tool
