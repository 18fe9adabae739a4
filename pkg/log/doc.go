/*
Package log provides structured logging for dismerge using zerolog.

It wraps zerolog with a single global logger configured once via Init,
context-logger helpers for the identifiers that show up across the
request pipeline (peer, member, watch, lease), and thin level helpers
for the common case.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("document actor started")

	peerLog := log.WithPeerID(peerID)
	peerLog.Debug().Msg("sync message sent")

Don't log key/value payloads at Info or above — they may contain
arbitrary client data.
*/
package log
