package hostdriver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalName is the container name that always refers to the current
// generation of a service on a host: "<project>-<name>". Earlier deploy
// logic in this tool kept the OLD container under the canonical name until
// the very end of a swap and booted the new one under a throwaway suffixed
// name; the canonical slot now belongs to whichever generation is current,
// archiving the previous occupant instead.
func CanonicalName(project, service string) string {
	return fmt.Sprintf("%s-%s", project, service)
}

// ArchivedName tags a retired generation with the epoch it was archived at
// plus a short random disambiguator, so multiple retained generations never
// collide even when two rollbacks on the same host race within the same
// second (the old Unix-seconds-only scheme could produce the exact same
// name for both).
func ArchivedName(project, service string, at time.Time) string {
	return fmt.Sprintf("%s_old_%d_%s", CanonicalName(project, service), at.Unix(), shortID())
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// archivedPrefix is the prefix every archived generation of a service shares.
func archivedPrefix(project, service string) string {
	return CanonicalName(project, service) + "_old_"
}

// ParseArchivedEpoch extracts the epoch suffix from an archived container
// name, returning false if name doesn't match the
// "<canonical>_old_<epoch>_<disambiguator>" shape (or the older
// "<canonical>_old_<epoch>" shape, still accepted for names archived before
// the disambiguator was added).
func ParseArchivedEpoch(project, service, name string) (int64, bool) {
	prefix := archivedPrefix(project, service)
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(name, prefix)
	epochPart := rest
	if idx := strings.IndexByte(rest, '_'); idx >= 0 {
		epochPart = rest[:idx]
	}
	epoch, err := strconv.ParseInt(epochPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return epoch, true
}

// SortArchivedNewestFirst orders archived container names by descending
// epoch, given they all belong to the same project/service.
func SortArchivedNewestFirst(project, service string, names []string) []string {
	sorted := append([]string(nil), names...)
	sort.Slice(sorted, func(i, j int) bool {
		ei, _ := ParseArchivedEpoch(project, service, sorted[i])
		ej, _ := ParseArchivedEpoch(project, service, sorted[j])
		return ei > ej
	})
	return sorted
}
