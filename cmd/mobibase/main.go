// Package main is the entry point for the mobibase object store server.
package main

func main() {
	Execute()
}
