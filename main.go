// Command ninepfs runs the serve9p command: a 9P2000.u server
// exporting a FAT32 volume over TCP.
package main

import (
	"os"

	"github.com/picocalc/ninepfs/cmd/serve9p"
)

func main() {
	if err := serve9p.Command.Execute(); err != nil {
		os.Exit(1)
	}
}
