package cmd

import (
	"github.com/spf13/cobra"
)

const appName = "fatfsmount"

// Execute runs the fatfsmount command.
func Execute() error {
	root := defineMountCommand()
	root.Use = appName + " [flags] <device> <mountpoint>"
	return root.Execute()
}
