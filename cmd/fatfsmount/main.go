// Command fatfsmount mounts a FAT12/16/32 volume over FUSE (spec §6).
package main

import (
	"fmt"
	"os"

	"github.com/halfpenny/fatfs/cmd/fatfsmount/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatfsmount:", err)
		os.Exit(1)
	}
}
