//go:build !unix

package storage

import "os"

func readMapped(path string, decode func([]byte) ([]byte, error)) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(data)
}
