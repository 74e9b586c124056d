// Package main is the entry point for the noteai AI service.
package main

func main() {
	Execute()
}
