// Package repl is the interactive mode of tokgate-cli.
//
// Every line is split into words and sent as one protocol command over a
// single connection, so AUTH and LOGIN bind the session for the following
// lines. Replies are printed in the usual RESP console style:
//
//	tokgate> LOGIN alice secret
//	"tgtk_..."
//	tokgate> TTL tgtk_...
//	(integer) 1799
//
// The local commands help, history and exit are not sent to the server.
package repl
