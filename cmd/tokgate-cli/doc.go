// Command tokgate-cli is the command-line client for tokgate-server.
//
// Usage:
//
//	tokgate-cli login alice
//	tokgate-cli whoami <token>
//	tokgate-cli admin stats
//	tokgate-cli shell
package main
