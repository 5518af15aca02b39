// Package confloader loads configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Values already present in the target struct (defaults)
//  2. Configuration file (YAML)
//  3. .env file (optional)
//  4. Environment variables
//
// Environment names are the upper-cased key with dots replaced by
// underscores behind the prefix, e.g. TOKGATE_SERVER_LISTEN_ADDR for
// server.listen_addr. Names are matched against the keys of the target
// struct, so keys that contain underscores resolve correctly.
//
// Watcher reports changes of watched files through fsnotify, coalescing
// bursts of writes into one notification.
package confloader
