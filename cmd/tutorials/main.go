// Package main is the entry point for the tutorials REST backend.
//
// @title          Tutorials API
// @version        1.0
// @description    Tutorial catalogue backed by MongoDB. The HTTP listener only starts once the database connection succeeds.
// @host           localhost:3000
// @BasePath       /
// @schemes        http
package main

// version is stamped at build time with
// -ldflags "-X main.version=<tag>".
var version = "dev"

func main() {
	Execute()
}
