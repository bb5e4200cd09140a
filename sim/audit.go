package sim

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/traffic-sim/sim/trace"
)

// auditLog accumulates the per-frame vehicle dump. Records are sorted by map id and then
// system id before formatting, so the dump does not depend on worker scheduling.
type auditLog struct {
	lines []string
}

// dump records pre/post state for every alive vehicle and returns the records in dump order.
func (a *auditLog) dump(frame int64, vehicles []*Vehicle) []trace.AuditRecord {
	records := make([]trace.AuditRecord, 0, len(vehicles))
	for _, v := range vehicles {
		if !v.IsAlive() {
			continue
		}
		pre, post := v.auditPre, v.Kinetics()
		records = append(records, trace.AuditRecord{
			Frame:     frame,
			ID:        v.id,
			SysID:     v.sysID,
			PreX:      pre.Position[0],
			PreY:      pre.Position[1],
			PreSpeed:  pre.Speed,
			PreAccel:  pre.Accel,
			PostX:     post.Position[0],
			PostY:     post.Position[1],
			PostSpeed: post.Speed,
			PostAccel: post.Accel,
			Lane:      laneLabel(v.stable.loc),
		})
	}
	slices.SortFunc(records, func(x, y trace.AuditRecord) int {
		if c := cmp.Compare(x.ID, y.ID); c != 0 {
			return c
		}
		return cmp.Compare(x.SysID, y.SysID)
	})
	for _, r := range records {
		line := r.Format()
		a.lines = append(a.lines, line)
		logrus.Debugf("[audit] %s", line)
	}
	return records
}

// String is the whole dump, one record per line.
func (a *auditLog) String() string {
	if len(a.lines) == 0 {
		return ""
	}
	return strings.Join(a.lines, "\n") + "\n"
}

func laneLabel(l Location) string {
	if l.OnLink {
		return "link" + strconv.Itoa(l.Link)
	}
	return l.Lane.String()
}
