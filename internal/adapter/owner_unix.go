//go:build unix

package adapter

import (
	"os"
	"os/user"
	"strconv"
	"syscall"
)

func ownerIDs(info os.FileInfo) (uint32, uint32, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}

	return st.Uid, st.Gid, true
}

func lookupUser(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(id); err == nil {
		return u.Username
	}

	return id
}

func lookupGroup(gid uint32) string {
	id := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(id); err == nil {
		return g.Name
	}

	return id
}
