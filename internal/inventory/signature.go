package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/runlayer/coordinator/internal/models"
)

// VersionTag is bumped whenever the compiler/runtime semantics change in a
// way that invalidates previously cached snapshots, independent of any
// workspace's own source configuration.
const VersionTag = "v1"

// Signature computes sig(ws) = H(version_tag, ws, sorted[(sourceId,
// updatedAt, enabled)]), per spec §4.E.
func Signature(workspaceID string, sources []models.ToolSource) string {
	entries := make([]string, 0, len(sources))
	for _, s := range sources {
		entries = append(entries, fmt.Sprintf("%s|%d|%t", s.SourceID, s.UpdatedAt, s.Enabled))
	}
	sort.Strings(entries)

	h := sha256.New()
	h.Write([]byte(VersionTag))
	h.Write([]byte{0})
	h.Write([]byte(workspaceID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(len(entries))))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(entries, ";")))
	return hex.EncodeToString(h.Sum(nil))
}
