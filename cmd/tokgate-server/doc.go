// Command tokgate-server runs the tokgate connection server.
//
// Usage:
//
//	tokgate-server serve --config /etc/tokgate/config.yaml
//	tokgate-server hash-password
//	tokgate-server version
//
// Configuration is read from defaults, the YAML file, an optional .env file
// and TOKGATE_* environment variables, in that order.
package main
