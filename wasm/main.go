//go:build js && wasm

package main

import (
	"fmt"
	"syscall/js"

	"github.com/andesco/archive-redirector/pkg/redirect"
)

func main() {
	fmt.Println("archive redirector loading...")

	install(js.Global(), redirect.New(nil))

	fmt.Println("archive redirector installed")

	// The installed callbacks live as long as the page does.
	select {}
}
