package crucible

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// mirrorToolPrefix is the key prefix tool archives live under on the
// mirror, matching the path segment of toolURL.
const mirrorToolPrefix = "tools/"

// remoteToolKey maps a cached archive filename (cache-key prefix plus
// the original name) back to its mirror key.
func remoteToolKey(cachedName string) (string, bool) {
	idx := strings.Index(cachedName, "-")
	if idx <= 0 || idx == len(cachedName)-1 {
		return "", false
	}
	return mirrorToolPrefix + cachedName[idx+1:], true
}

// UploadToolArchives publishes locally cached tool archives to the
// mirror bucket, skipping keys already present. With cleanup set, mirror
// objects no longer backed by a local archive are deleted.
func UploadToolArchives(ctx context.Context, cfg *Config, ws Workspace, cleanup bool) error {
	client, err := NewMirrorClient(cfg)
	if err != nil {
		return err
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "Fetching mirror index")
	remote, err := client.ListObjects(ctx, mirrorToolPrefix)
	if err != nil {
		return fmt.Errorf("failed to list mirror objects: %w", err)
	}
	remoteKeys := make(map[string]bool, len(remote))
	for _, obj := range remote {
		remoteKeys[obj.Key] = true
	}

	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Scanning local archives in %s\n", ws.ToolsCacheDir)
	localFiles, err := filepath.Glob(filepath.Join(ws.ToolsCacheDir, "*.tar.gz"))
	if err != nil {
		return err
	}
	sort.Strings(localFiles)

	localKeys := make(map[string]bool, len(localFiles))
	var uploaded int
	for _, file := range localFiles {
		key, ok := remoteToolKey(filepath.Base(file))
		if !ok {
			debugf("Skipping unrecognized cache entry %s\n", file)
			continue
		}
		localKeys[key] = true
		if remoteKeys[key] {
			debugf("Already on mirror: %s\n", key)
			continue
		}
		cPrintf(colArrow, "-> ")
		cPrintf(colSuccess, "Uploading %s\n", key)
		if err := client.UploadLocalFile(ctx, key, file); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		uploaded++
	}

	if cleanup {
		for _, obj := range remote {
			if localKeys[obj.Key] {
				continue
			}
			cPrintf(colArrow, "-> ")
			cPrintf(colWarn, "Deleting stale mirror object %s\n", obj.Key)
			if err := client.DeleteFile(ctx, obj.Key); err != nil {
				return fmt.Errorf("failed to delete %s: %w", obj.Key, err)
			}
		}
	}

	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Upload complete (%d new archive(s))\n", uploaded)
	return nil
}
