package id

import (
	"github.com/rs/xid"
)

// ID is a sortable unique identifier scoped to a group name, rendered as "<group>-<xid>".
type ID struct {
	xid   xid.ID
	group string
}

func NewID(name string) ID {
	return ID{
		xid:   xid.New(),
		group: name,
	}
}

func (id ID) String() string {
	return id.group + "-" + id.xid.String()
}
