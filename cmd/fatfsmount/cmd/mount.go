package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/halfpenny/fatfs"
	"github.com/halfpenny/fatfs/internal/block"
	"github.com/halfpenny/fatfs/internal/fuseadapter"
	"github.com/halfpenny/fatfs/internal/partition"
)

func defineMountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mount <device> <mountpoint>",
		Short:        "mount a FAT12/16/32 volume over FUSE",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         runMount,
	}
	cmd.Flags().StringP("options", "o", "rw", "mount options: ro, rw, cache=<N>[K|M|G|%]")
	cmd.Flags().Int("sector-size", 512, "device logical sector size in bytes")
	cmd.Flags().Bool("whole-disk", false, "device holds a partition table; locate the FAT partition instead of treating it as a bare volume")
	return cmd
}

func runMount(cmd *cobra.Command, args []string) error {
	devicePath, mountpoint := args[0], args[1]

	optionsStr, _ := cmd.Flags().GetString("options")
	sectorSize, _ := cmd.Flags().GetInt("sector-size")
	wholeDisk, _ := cmd.Flags().GetBool("whole-disk")

	opts, err := fatfs.ParseMountOptions(optionsStr)
	if err != nil {
		return err
	}

	dev, err := fatfs.OpenFileDevice(devicePath, sectorSize, opts.Mode == fatfs.ModeReadOnly)
	if err != nil {
		return fmt.Errorf("opening %s: %w", devicePath, err)
	}
	defer dev.Close()

	var blockDev fatfs.BlockDevice = dev
	if wholeDisk {
		start, err := partition.Locate(dev, sectorSize)
		if err != nil {
			return fmt.Errorf("locating FAT partition on %s: %w", devicePath, err)
		}
		blockDev = fatfs.NewPartitionDevice(dev, block.LBA(start))
	}

	size, err := dev.Size()
	if err != nil {
		return fmt.Errorf("statting %s: %w", devicePath, err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	fsys, err := fatfs.Mount(blockDev, sectorSize, fatfs.Config{
		Mode:       opts.Mode,
		CacheBytes: opts.ResolveCacheBytes(size),
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("mounting %s: %w", devicePath, err)
	}

	server, err := fuseadapter.Mount(mountpoint, fsys)
	if err != nil {
		fsys.Unmount()
		return fmt.Errorf("mounting FUSE at %s: %w", mountpoint, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		server.Unmount()
	}()

	server.Wait()
	return fsys.Unmount()
}
