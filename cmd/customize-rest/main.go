// Command customize-rest serves a REST resource API with live preview and
// transactional save of staged edits.
package main

func main() {
	Execute()
}
