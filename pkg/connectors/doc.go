// Package connectors resolves federation members to cloud connectors.
//
// The local member is reached through a LocalConnector wrapping a cloud
// Plugin. Every other member is reached through a RemoteConnector that turns
// connector calls into federation requests. SimulatedCloud is an in-memory
// Plugin for development and tests.
package connectors
