// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// partitionTable is the subset of sfdisk's JSON dump needed to find
// partition offsets inside a raw image file.
type partitionTable struct {
	sectorSize int64
	partitions []partitionEntry
}

type partitionEntry struct {
	node  string
	start int64
	size  int64
}

// sfdiskDump mirrors the sfdisk --json output shape.
type sfdiskDump struct {
	PartitionTable struct {
		SectorSize int64 `json:"sectorsize"`
		Partitions []struct {
			Node  string `json:"node"`
			Start int64  `json:"start"`
			Size  int64  `json:"size"`
		} `json:"partitions"`
	} `json:"partitiontable"`
}

func parsePartitionTable(data []byte) (*partitionTable, error) {
	var dump sfdiskDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parsing sfdisk output: %w", err)
	}
	if len(dump.PartitionTable.Partitions) == 0 {
		return nil, fmt.Errorf("no partitions in sfdisk output")
	}

	table := &partitionTable{sectorSize: dump.PartitionTable.SectorSize}
	if table.sectorSize == 0 {
		// Older sfdisk omits the field; 512 has been the sector
		// size of every image the lab has seen.
		table.sectorSize = 512
	}
	for _, p := range dump.PartitionTable.Partitions {
		table.partitions = append(table.partitions, partitionEntry{
			node:  p.Node,
			start: p.Start,
			size:  p.Size,
		})
	}
	return table, nil
}

// offsetOf returns the byte offset of the numbered (1-based)
// partition.
func (t *partitionTable) offsetOf(partition int) (int64, error) {
	if partition < 1 || partition > len(t.partitions) {
		return 0, fmt.Errorf("image has %d partitions, want partition %d", len(t.partitions), partition)
	}
	return t.partitions[partition-1].start * t.sectorSize, nil
}

// readPartitionTable runs sfdisk against an image file.
func readPartitionTable(ctx context.Context, log *slog.Logger, image string) (*partitionTable, error) {
	output, err := RunLocalOutput(ctx, log, fmt.Sprintf("sfdisk --json %q", image))
	if err != nil {
		return nil, fmt.Errorf("reading partition table of %s: %w", filepath.Base(image), err)
	}
	return parsePartitionTable([]byte(output))
}

// withMountedPartition loop-mounts the numbered partition of image
// and runs fn against the mount point. The unmount happens on its own
// deadline so a cancelled deploy cannot leave stale mounts behind.
func withMountedPartition(ctx context.Context, log *slog.Logger, image string, partition int, fn func(mount string) error) error {
	table, err := readPartitionTable(ctx, log, image)
	if err != nil {
		return err
	}
	offset, err := table.offsetOf(partition)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(image), err)
	}

	mount, err := os.MkdirTemp("", "lava-mnt-")
	if err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}
	// Remove, not RemoveAll: if the unmount failed the directory is
	// not empty, and removing through a live mount would eat the
	// image contents.
	defer os.Remove(mount)

	if err := RunLocal(ctx, log, fmt.Sprintf("mount -o loop,offset=%d %q %q", offset, image, mount)); err != nil {
		return fmt.Errorf("mounting partition %d of %s: %w", partition, filepath.Base(image), err)
	}
	defer func() {
		umountCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if err := RunLocal(umountCtx, log, fmt.Sprintf("umount %q", mount)); err != nil {
			log.Warn("unmounting staged partition failed", "mount", mount, "error", err)
		}
	}()

	return fn(mount)
}

// buildLinaroImage turns a hardware pack plus root filesystem into a
// bootable image under scratch, using the configured image build
// tool.
func (b *Base) buildLinaroImage(ctx context.Context, hwpack, rootfs string) (string, error) {
	hwpackPath, err := b.fetchImage(ctx, hwpack)
	if err != nil {
		return "", err
	}
	rootfsPath, err := b.fetchImage(ctx, rootfs)
	if err != nil {
		return "", err
	}
	scratch, err := b.ScratchDir()
	if err != nil {
		return "", err
	}

	image := filepath.Join(scratch, "lava.img")
	boardName := b.device.MediaCreateDevice
	if boardName == "" {
		boardName = b.device.DeviceType
	}
	command := fmt.Sprintf("%s --hwpack-force-yes --dev %s --image-file %q --binary %q --hwpack %q",
		b.dispatcher.Images.MediaCreate, boardName, image, rootfsPath, hwpackPath)
	if err := RunLocal(ctx, b.log, command); err != nil {
		return "", fmt.Errorf("building image: %w", err)
	}
	return image, nil
}
