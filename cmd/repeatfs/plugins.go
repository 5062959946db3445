package main

import (
	"fmt"
)

type pluginsCmd struct {
	ConfigDir string `short:"c" long:"config-dir" description:"directory holding repeatfs.conf" default:"."`
}

// Execute lists the plugin names a configuration requests. No concrete
// plugin (kafka/dfs/snapshot streaming) ships in this build — only the
// capability-dispatch mechanism in internal/plugin does — so a requested
// name here is reported, not resolved to a running implementation.
func (c *pluginsCmd) Execute(_ []string) error {
	cfg, err := loadOrDefaultConfig(c.ConfigDir)
	if err != nil {
		return err
	}

	if len(cfg.Plugins) == 0 {
		fmt.Println("no plugins configured")
		return nil
	}

	for _, name := range cfg.Plugins {
		fmt.Println(name)
	}
	return nil
}
