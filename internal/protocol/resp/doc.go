// Package resp implements the RESP2 framing used on the tokgate wire.
//
// Requests are arrays of bulk strings, or inline commands (a single line of
// space separated words). Replies are simple strings, errors, integers, bulk
// strings and arrays. The server side reads commands with ReadCommand and
// answers with the Write* helpers; the client side sends with WriteCommand
// and decodes with ReadReply.
//
// All reads are bounded by MaxArrayLen, MaxBulkLen and MaxInlineLen so a
// hostile peer cannot make the reader allocate without limit.
package resp
