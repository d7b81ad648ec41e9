// Package main is the entry point for the billgate billing engine.
package main

func main() {
	Execute()
}
