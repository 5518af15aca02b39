// Package client is a Go client for the tokgate connection protocol.
//
// A Client holds one TCP connection and is safe for concurrent use; requests
// are serialized on the connection. Error replies are returned as
// *resp.ReplyError, so callers can inspect the tokgate error code:
//
//	c, err := client.Dial(ctx, "127.0.0.1:7379")
//	token, err := c.Login(ctx, "alice", password, 0)
//	identity, err := c.Whoami(ctx)
package client
