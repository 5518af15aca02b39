// Package output renders tokgate-cli results as a table, JSON or YAML.
//
// Tables are derived from the value: a struct becomes FIELD/VALUE rows, a map
// becomes KEY/VALUE rows sorted by key, and a slice of structs becomes one
// row per element. Field names come from json tags.
package output
