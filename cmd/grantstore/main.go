package main

import (
	"os"

	"github.com/nimburion/grantstore/pkg/cli"
)

func main() {
	cmd := cli.NewServiceCommand(cli.ServiceCommandOptions{
		Name:        "grantstore",
		Description: "Grant-scoped persistence for OpenID provider records",
		EnvPrefix:   "APP",
	})
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
