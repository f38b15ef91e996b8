package main

import "github.com/jmcleod/certreq/cmd/certreq/cmd"

func main() {
	cmd.Execute()
}
