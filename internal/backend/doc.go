// Package backend is the typed client for the rendering backend. Every method
// maps to one transport.Operation and returns decoded payloads or the
// normalized *transport.Error produced by the Dispatcher.
package backend
