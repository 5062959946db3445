package main

import "fmt"

// buildVersion is overridden at build time via -ldflags.
var buildVersion = "dev"

type versionCmd struct{}

func (c *versionCmd) Execute(_ []string) error {
	fmt.Println("repeatfs", buildVersion)
	return nil
}
