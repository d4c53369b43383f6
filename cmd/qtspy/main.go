package main

import (
	"github.com/qtspy/qtspy/cmd/qtspy/cmds"
)

func main() {
	cmds.New().Execute()
}
