package main

import (
	"fmt"
	"path/filepath"

	"github.com/repeatfs/repeatfs/internal/config"
)

type generateCmd struct {
	ConfigDir string `short:"c" long:"config-dir" description:"directory to write repeatfs.conf into" default:"."`
}

func (c *generateCmd) Execute(_ []string) error {
	path := filepath.Join(c.ConfigDir, configFileName)
	if err := config.WriteTemplate(path); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	fmt.Println("wrote", path)
	return nil
}
