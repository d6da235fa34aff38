// ChatBae serves the dating-coach chat API.
package main

import (
	"os"

	"github.com/username/chatbae/cmd/chatbae/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
