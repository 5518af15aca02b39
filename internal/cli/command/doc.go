// Package command defines the tokgate-cli commands.
//
// Session commands open one protocol connection per invocation; tokens
// printed by login are passed to later invocations. The admin group talks to
// the HTTP admin endpoint and shell starts an interactive session.
package command
