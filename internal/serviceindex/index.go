package serviceindex

import (
	"sort"
	"strings"
	"sync"
)

// Index is the hostname -> IPs projection a DnsServer reads from. Set and
// Remove take the write lock so an upsert's two map writes appear atomic to
// concurrent readers, and Get/Stats take the read lock.
type Index struct {
	mu sync.RWMutex

	// byHostname holds, per lowercased hostname, every record (by
	// containerId) that currently answers to it — healthy or not. Healthy
	// filtering happens at Get time, not at Set time, so a record that goes
	// unhealthy and back stays discoverable without re-registering.
	byHostname map[string]map[string]*Record
	// byContainerID is keyed by the record's primary key for O(1) delete
	// and health updates.
	byContainerID map[string]*Record
	// hostnamesByContainer remembers which hostnames a containerId was filed
	// under, so Set can cleanly replace stale associations on update and
	// Remove can find every byHostname entry to delete.
	hostnamesByContainer map[string][]string
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byHostname:           make(map[string]map[string]*Record),
		byContainerID:        make(map[string]*Record),
		hostnamesByContainer: make(map[string][]string),
	}
}

// Set inserts or replaces the record for r.ContainerID. Replacing removes
// the record's previous hostname associations first, so an update that
// changes InstanceID (and therefore the derived hostnames) doesn't leave a
// stale entry behind.
func (idx *Index) Set(r Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(r.ContainerID)

	rec := r
	hostnames := rec.Hostnames()
	idx.byContainerID[rec.ContainerID] = &rec
	idx.hostnamesByContainer[rec.ContainerID] = hostnames

	for _, h := range hostnames {
		set, ok := idx.byHostname[h]
		if !ok {
			set = make(map[string]*Record)
			idx.byHostname[h] = set
		}
		set[rec.ContainerID] = &rec
	}
}

// Remove deletes the record for containerID from both maps. Returns true if
// a record existed.
func (idx *Index) Remove(containerID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(containerID)
}

func (idx *Index) removeLocked(containerID string) bool {
	if _, ok := idx.byContainerID[containerID]; !ok {
		return false
	}
	for _, h := range idx.hostnamesByContainer[containerID] {
		if set, ok := idx.byHostname[h]; ok {
			delete(set, containerID)
			if len(set) == 0 {
				delete(idx.byHostname, h)
			}
		}
	}
	delete(idx.byContainerID, containerID)
	delete(idx.hostnamesByContainer, containerID)
	return true
}

// Get resolves a hostname (case-insensitive) to the IPs of its healthy
// records, at most one per ServerID: within each ServerID group the record
// with the greatest StartedAt wins, ties broken by ContainerID lex-greater.
// Results are ordered by ServerID then ContainerID for stable output.
func (idx *Index) Get(hostname string) []string {
	hostname = strings.ToLower(hostname)

	idx.mu.RLock()
	set, ok := idx.byHostname[hostname]
	if !ok {
		idx.mu.RUnlock()
		return nil
	}
	records := make([]*Record, 0, len(set))
	for _, r := range set {
		if r.Healthy {
			records = append(records, r)
		}
	}
	idx.mu.RUnlock()

	best := make(map[string]*Record, len(records))
	for _, r := range records {
		cur, ok := best[r.ServerID]
		if !ok || r.StartedAt > cur.StartedAt ||
			(r.StartedAt == cur.StartedAt && r.ContainerID > cur.ContainerID) {
			best[r.ServerID] = r
		}
	}
	if len(best) == 0 {
		return nil
	}

	serverIDs := make([]string, 0, len(best))
	for sid := range best {
		serverIDs = append(serverIDs, sid)
	}
	sort.Slice(serverIDs, func(i, j int) bool {
		a, b := best[serverIDs[i]], best[serverIDs[j]]
		if a.ServerID != b.ServerID {
			return a.ServerID < b.ServerID
		}
		return a.ContainerID < b.ContainerID
	})

	ips := make([]string, 0, len(serverIDs))
	for _, sid := range serverIDs {
		ips = append(ips, best[sid].IP)
	}
	return ips
}

// Stats summarizes the index for status reporting / debugging.
type Stats struct {
	TotalRecords   int
	HealthyRecords int
	Hostnames      int
}

// Stats returns a point-in-time snapshot of index size.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := Stats{TotalRecords: len(idx.byContainerID), Hostnames: len(idx.byHostname)}
	for _, r := range idx.byContainerID {
		if r.Healthy {
			s.HealthyRecords++
		}
	}
	return s
}
