package main

import (
	"fmt"

	"github.com/greenroom-ai/greenroom"
)

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(greenroom.GetVersion().String())
	return nil
}
