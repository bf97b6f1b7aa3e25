// Package cluster implements the cluster map: a versioned, immutable
// list of MDS and OSD endpoints, with a big-endian binary encoding.
package cluster

import (
	"fmt"

	"github.com/redfish/redfish/config"
	"github.com/redfish/redfish/pack"
)

// DaemonInfo identifies one cluster member's endpoint and membership
// state.
type DaemonInfo struct {
	IP    uint32
	Port  uint16
	IsIn  bool
}

// Map is an immutable snapshot of cluster membership. Updates are never
// made in place: a new Map is built and the holder's pointer is swapped
// under a higher-level lock (the caller's responsibility).
type Map struct {
	Epoch uint64
	OSDs  []DaemonInfo
	MDSes []DaemonInfo
}

// FromConfig builds epoch-1 map directly from parsed configuration.
func FromConfig(cfg *config.Config) (*Map, error) {
	m := &Map{Epoch: 1}
	for _, d := range cfg.OSD {
		ip, err := resolveIPv4(d.Host)
		if err != nil {
			return nil, fmt.Errorf("cluster: osd %s:%d: %w", d.Host, d.Port, err)
		}
		m.OSDs = append(m.OSDs, DaemonInfo{IP: ip, Port: d.Port, IsIn: true})
	}
	for _, d := range cfg.MDS {
		ip, err := resolveIPv4(d.Host)
		if err != nil {
			return nil, fmt.Errorf("cluster: mds %s:%d: %w", d.Host, d.Port, err)
		}
		m.MDSes = append(m.MDSes, DaemonInfo{IP: ip, Port: d.Port, IsIn: true})
	}
	return m, nil
}

// Encode serializes m as epoch:u64, num_osd:u32, num_mds:u32, then each
// address array as (ip:u32, port:u16, pad:u16).
func Encode(m *Map) []byte {
	w := pack.NewWriter(16 + (len(m.OSDs)+len(m.MDSes))*8)
	w.PutUint64(m.Epoch)
	w.PutUint32(uint32(len(m.OSDs)))
	w.PutUint32(uint32(len(m.MDSes)))
	for _, d := range m.OSDs {
		w.PutUint32(d.IP)
		w.PutUint16(d.Port)
		w.PutUint16(0) // pad
	}
	for _, d := range m.MDSes {
		w.PutUint32(d.IP)
		w.PutUint16(d.Port)
		w.PutUint16(0) // pad
	}
	return w.Bytes()
}

// Decode parses a buffer produced by Encode. IsIn is not carried over
// the wire (the serialized layout has no membership bit); it defaults
// to true, matching FromConfig's initial epoch.
func Decode(buf []byte) (*Map, error) {
	r := pack.NewReader(buf)
	m := &Map{Epoch: r.Uint64()}
	numOSD := r.Uint32()
	numMDS := r.Uint32()
	for i := uint32(0); i < numOSD && r.Err() == nil; i++ {
		ip := r.Uint32()
		port := r.Uint16()
		_ = r.Uint16() // pad
		m.OSDs = append(m.OSDs, DaemonInfo{IP: ip, Port: port, IsIn: true})
	}
	for i := uint32(0); i < numMDS && r.Err() == nil; i++ {
		ip := r.Uint32()
		port := r.Uint16()
		_ = r.Uint16() // pad
		m.MDSes = append(m.MDSes, DaemonInfo{IP: ip, Port: port, IsIn: true})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("cluster: short buffer while decoding: %w", err)
	}
	return m, nil
}
