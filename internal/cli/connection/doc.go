// Package connection holds the tokgate-cli connections to a server: the
// protocol session (see internal/client) and the admin HTTP endpoint.
package connection
