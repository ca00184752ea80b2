package events

// Event types written to the outbox.
const (
	TypeActivitiesReconciled = "activities.reconciled"
	TypeConnectionChanged    = "connection.changed"
)

// Route describes where an outbox event is published.
type Route struct {
	Topic         string
	AggregateType string
}

// Catalog maps event type to its route.
var Catalog = map[string]Route{
	TypeActivitiesReconciled: {Topic: "activities_reconciled", AggregateType: "activity_set"},
	TypeConnectionChanged:    {Topic: "connection_changed", AggregateType: "connection"},
}

// Lookup returns the route for eventType.
func Lookup(eventType string) (Route, bool) {
	route, ok := Catalog[eventType]
	return route, ok
}
