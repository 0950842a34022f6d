//go:build unix

package agent

import "golang.org/x/sys/unix"

func diskUsage(path string) (interface{}, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, err
	}

	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	used := total - st.Bfree*uint64(st.Bsize)

	var usedPct float64
	if total > 0 {
		usedPct = float64(used) / float64(total) * 100
	}

	return map[string]interface{}{
		"path":         path,
		"total_bytes":  total,
		"free_bytes":   free,
		"used_bytes":   used,
		"used_percent": usedPct,
	}, nil
}
