// Package cli is the notesync command-line client.
//
// Every command works against the local store first. Edits are committed
// locally and reported immediately; the sync engine and uploader run in
// the background for as long as the command runs, so "sync" and "watch"
// are the commands that talk to the document service for real.
//
// The App owns the shared pieces (credential, remote client, connectivity
// monitor, kind registry, logger) and opens a session for the signed-in
// user on demand.
package cli
