// Package sonicare is the per-connection driver for Philips Sonicare BLE
// toothbrushes. A Toothbrush dials the handle, reads and subscribes to the
// characteristics brushlink exposes as sensors, and reports state snapshots and
// link loss through registered callbacks.
//
// The driver polls the battery level while connected and, after an unexpected
// disconnect, re-dials on the next poll tick. Callers that want the link to stay
// down call MarkExpectedDisconnect and then Stop.
package sonicare
