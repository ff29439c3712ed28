package main

import (
	"cvrarchive/cmd/cvrarchive/commands"
	"cvrarchive/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
