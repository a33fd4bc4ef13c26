//go:build !unix

package adapter

import "os"

func ownerIDs(os.FileInfo) (uint32, uint32, bool) {
	return 0, 0, false
}

func lookupUser(uint32) string { return "" }

func lookupGroup(uint32) string { return "" }
