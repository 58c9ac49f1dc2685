package charts

import (
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/filter"
	"github.com/nicktill/campuspulse/pkg/records"
)

// LiveAlerts lists the newest emergency reports, newest first.
func LiveAlerts(limit int) *ListChart[records.EmergencyReport] {
	return &ListChart[records.EmergencyReport]{
		name: LiveAlertsName,
		gate: authz.GateAdmin,
		query: func(filter.Filter) docstore.Query {
			return docstore.Query{
				Collection: records.EmergencyCollection,
				OrderBy:    "timestamp",
				Desc:       true,
				Limit:      limit,
			}
		},
		decode: records.EmergencyFrom,
	}
}
