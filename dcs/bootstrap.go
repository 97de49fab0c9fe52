package dcs

import (
	"net"
	"strconv"
)

// DC describes one of Telegram's well-known datacenters, reachable before
// any configuration has been fetched from the server.
type DC struct {
	ID       int32
	IPv4     string
	IPv4Test string
	Port     int
	CDN      bool
}

// Production is the bootstrap list of production datacenters. A real
// deployment should prefer the DC list returned by help.getConfig once
// connected, and fall back to this table only for the very first
// connection.
var Production = []DC{
	{ID: 1, IPv4: "149.154.175.53", IPv4Test: "149.154.175.10", Port: 443},
	{ID: 2, IPv4: "149.154.167.51", IPv4Test: "149.154.167.40", Port: 443},
	{ID: 3, IPv4: "149.154.175.100", IPv4Test: "149.154.175.117", Port: 443},
	{ID: 4, IPv4: "149.154.167.91", IPv4Test: "149.154.167.167", Port: 443},
	{ID: 5, IPv4: "91.108.56.130", IPv4Test: "91.108.56.170", Port: 443},
}

// Default is the DC new sessions bootstrap against absent any prior
// session state (DC 2, matching Telethon's default).
const Default = 2

// ByID returns the bootstrap entry for id, or false if id names a DC this
// client has no hardcoded address for (e.g. one only ever seen via a
// migrate_to redirection).
func ByID(id int32) (DC, bool) {
	for _, dc := range Production {
		if dc.ID == id {
			return dc, true
		}
	}
	return DC{}, false
}

// Addr returns the address to dial for dc, preferring the test address
// when test is true.
func (dc DC) Addr(test bool) string {
	host := dc.IPv4
	if test {
		host = dc.IPv4Test
	}
	return net.JoinHostPort(host, strconv.Itoa(dc.Port))
}
