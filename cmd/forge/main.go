// Command forge is the CLI entrypoint for the build core: the build,
// clean, graph, and query commands, plus cache stats/gc utility
// commands, the way the teacher project's cmd package wires cobra
// commands around its core library.
package main

func main() {
	Execute()
}
