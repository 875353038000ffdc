// Package app wires sealroom's dependencies for the CLI.
//
// It loads the configuration, opens the vault and builds the services the
// commands use, exposing them through the Wire struct.
package app
