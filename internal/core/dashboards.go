package core

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dashboard is a Grafana dashboard asset embedded in the binary.
type Dashboard struct {
	Name string
	JSON []byte
}

// DashboardsMap materializes dashboard content to URL paths under
// /dashboards/<group>/.
func DashboardsMap(group string, dashboards []Dashboard) map[string][]byte {
	result := make(map[string][]byte, len(dashboards))
	for _, dash := range dashboards {
		path := "/dashboards/" + group + "/" + dash.Name + ".json"
		result[path] = dash.JSON
	}
	return result
}

// WriteDashboards writes dashboards to disk for Grafana provisioning.
func WriteDashboards(dir, group string, dashboards []Dashboard) error {
	if dir == "" {
		return nil
	}

	groupDir := filepath.Join(dir, group)
	if err := os.MkdirAll(groupDir, 0o755); err != nil {
		return fmt.Errorf("create dashboard dir: %w", err)
	}
	for _, dash := range dashboards {
		path := filepath.Join(groupDir, dash.Name+".json")
		if err := os.WriteFile(path, dash.JSON, 0o644); err != nil {
			return fmt.Errorf("write dashboard %s: %w", path, err)
		}
	}

	return nil
}
