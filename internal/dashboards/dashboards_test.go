package dashboards

import (
	"encoding/json"
	"testing"
)

func TestDashboardsAreValidJSON(t *testing.T) {
	for _, dash := range All() {
		var doc struct {
			UID    string            `json:"uid"`
			Panels []json.RawMessage `json:"panels"`
		}
		if err := json.Unmarshal(dash.JSON, &doc); err != nil {
			t.Fatalf("%s: %v", dash.Name, err)
		}
		if doc.UID == "" || len(doc.Panels) == 0 {
			t.Fatalf("%s: missing uid or panels", dash.Name)
		}
	}
}
