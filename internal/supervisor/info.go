package supervisor

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/pump-controller/internal/command"
	"github.com/sweeney/pump-controller/internal/store"
)

// noUpdate is the GET_INFO reply when nothing changed since the last row.
const noUpdate = "NU"

func rowFromInfo(info command.Info, at time.Time) store.DataRow {
	alarms := make([]string, len(info.Alarms))
	for i, id := range info.Alarms {
		alarms[i] = strconv.Itoa(id)
	}
	return store.DataRow{
		InletPressure:        info.InletPressure,
		InletTemperature:     info.InletTemperature,
		OutletPressure:       info.OutletPressure,
		OutletPressureTarget: info.OutletPressureTarget,
		WorkingHours:         info.WorkingHours,
		WorkingMinutes:       info.WorkingMinutes,
		AntiDrip:             info.AntiDrip,
		Alarms:               strings.Join(alarms, ","),
		TLService:            info.TLService,
		BKService:            info.BKService,
		RBService:            info.RBService,
		Run:                  info.Run,
		Running:              info.Running,
		CreatedAt:            at.UnixMilli(),
	}
}

func infoFromRow(row store.DataRow) command.Info {
	alarms := []int{}
	for _, s := range strings.Split(row.Alarms, ",") {
		if id, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			alarms = append(alarms, id)
		}
	}
	return command.Info{
		InletPressure:        row.InletPressure,
		InletTemperature:     row.InletTemperature,
		OutletPressure:       row.OutletPressure,
		OutletPressureTarget: row.OutletPressureTarget,
		WorkingHours:         row.WorkingHours,
		WorkingMinutes:       row.WorkingMinutes,
		AntiDrip:             row.AntiDrip,
		Alarms:               alarms,
		TLService:            row.TLService,
		BKService:            row.BKService,
		RBService:            row.RBService,
		Run:                  row.Run,
		Running:              row.Running,
	}
}

// fields flattens info into its wire field names.
func fields(info command.Info) map[string]any {
	if info.Alarms == nil {
		info.Alarms = []int{}
	}
	data, _ := json.Marshal(info)
	out := make(map[string]any)
	_ = json.Unmarshal(data, &out)
	return out
}

// diffInfo returns the fields of cur that differ from prev. With no previous
// row every field is returned.
func diffInfo(prev *store.DataRow, cur command.Info) map[string]any {
	now := fields(cur)
	if prev == nil {
		return now
	}
	old := fields(infoFromRow(*prev))
	changed := make(map[string]any)
	for k, v := range now {
		if !reflect.DeepEqual(old[k], v) {
			changed[k] = v
		}
	}
	return changed
}
