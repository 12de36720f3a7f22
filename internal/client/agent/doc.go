// Package agent wires the sync engine into a long-running device agent with
// an interactive command loop.
//
// On start the agent opens the local store, makes sure the device has an id,
// launches the background uploader, the change-log connector and the
// diagnostics server, and then reads commands from stdin until exit.
package agent
