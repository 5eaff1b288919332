// Package dashboards embeds the Grafana dashboards shipped with plantcare.
package dashboards

import (
	_ "embed"

	"github.com/joshp123/plantcare/internal/core"
)

// Group is the URL and provisioning directory segment for these dashboards.
const Group = "plantcare"

//go:embed fleet-overview.json
var fleetOverview []byte

//go:embed devices.json
var devices []byte

func All() []core.Dashboard {
	return []core.Dashboard{
		{Name: "fleet-overview", JSON: fleetOverview},
		{Name: "devices", JSON: devices},
	}
}
