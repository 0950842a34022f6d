//go:build !unix

package agent

import "errors"

func diskUsage(path string) (interface{}, error) {
	return nil, errors.New("disk usage is not supported on this platform")
}
