package nat

import (
	"net"
	"sync"
)

// Link ties a relayed flow, identified by its logical source port,
// back to its local side: the accepted stream connection, or the
// client address datagrams came from.
type Link struct {
	net.Conn
	Addr net.Addr
}

type Table struct {
	table map[uint16]Link
	l     sync.RWMutex
}

func New() *Table {
	return &Table{
		table: make(map[uint16]Link),
	}
}

func (n *Table) Get(port uint16) (Link, bool) {
	n.l.RLock()
	defer n.l.RUnlock()
	value, exist := n.table[port]
	return value, exist
}

func (n *Table) Set(port uint16, value Link) {
	n.l.Lock()
	defer n.l.Unlock()
	n.table[port] = value
}

func (n *Table) Delete(port uint16) {
	n.l.Lock()
	defer n.l.Unlock()
	delete(n.table, port)
}
