package main

import (
	"os"

	"github.com/echobin/echobin/echobin/cmd"
)

func main() {
	os.Exit(cmd.Main())
}
