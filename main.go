// Package main is the entry point for the outbox CLI.
package main

import "tagfiler.dev/pkg/outbox/cmd"

func main() {
	cmd.Execute()
}
