// Package serve9p provides the serve9p command: it runs the
// 9P2000.u server described in spec.md against the in-memory
// reference driver, the only storage driver this command can open.
package serve9p

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/picocalc/ninepfs/config"
	"github.com/picocalc/ninepfs/logging"
	"github.com/picocalc/ninepfs/server"
	"github.com/picocalc/ninepfs/storage"
	"github.com/picocalc/ninepfs/storage/memdriver"
)

var opts = config.Defaults()

// driverName selects which storage.Driver backs the exported volume.
// "memory" is the in-memory reference driver; any other value is
// reserved for a real FAT32 driver this repository does not ship.
var driverName string

// Command is the root cobra command for serve9p.
var Command = &cobra.Command{
	Use:   "serve9p",
	Short: "Serve a FAT32 volume over 9P2000.u",
	Long: `
serve9p exports one mounted FAT32 volume as a 9P2000.u filesystem
server, the way rclone's serve subcommands export a remote over FTP,
SFTP or WebDAV. Point a 9P client (a v9fs mount, or any 9P2000.u
library) at the listen address to read and write the volume.

Only the in-memory reference driver (--driver=memory) is available;
any other driver name is rejected.`,
	RunE: run,
}

func init() {
	flags := Command.Flags()
	flags.StringVar(&opts.ListenAddr, "addr", opts.ListenAddr, "address to listen on")
	flags.IntVar(&opts.MaxSessions, "max-sessions", opts.MaxSessions, "maximum concurrent client sessions")
	flags.IntVar(&opts.MaxFIDsPerSession, "max-fids", opts.MaxFIDsPerSession, "maximum open FIDs per session")
	flags.Uint32Var(&opts.MaxMessageSize, "msize-max", opts.MaxMessageSize, "largest message size offered during version negotiation")
	flags.Uint32Var(&opts.MinMessageSize, "msize-min", opts.MinMessageSize, "smallest message size accepted during version negotiation")
	flags.DurationVar(&opts.StorageLockTimeout, "storage-lock-timeout", opts.StorageLockTimeout, "how long a request waits for exclusive storage access before failing")
	flags.DurationVar(&opts.SendWindowTimeout, "send-timeout", opts.SendWindowTimeout, "how long a reply write may block before the session is closed")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "logrus level: trace, debug, info, warn, error")
	flags.StringVar(&driverName, "driver", "memory", `storage driver to export ("memory" for the in-memory reference driver)`)
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.New(opts.LogLevel)

	driver, err := openDriver(driverName)
	if err != nil {
		return err
	}
	gw := storage.NewGateway(driver, opts.StorageLockTimeout)

	srv := server.New(opts, gw, log.Logger)
	if err := srv.Start(); err != nil {
		return err
	}
	log.WithField("addr", opts.ListenAddr).Info("serve9p started")

	waitForSignal()
	log.Info("shutting down")
	return srv.Stop()
}

func openDriver(name string) (storage.Driver, error) {
	switch name {
	case "memory", "":
		return memdriver.New(0), nil
	default:
		return nil, errUnknownDriver(name)
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	// Give in-flight sessions a moment to flush their last reply
	// before Stop closes the listener out from under them.
	time.Sleep(50 * time.Millisecond)
}

type errUnknownDriver string

func (e errUnknownDriver) Error() string {
	return "serve9p: unknown storage driver " + string(e)
}
