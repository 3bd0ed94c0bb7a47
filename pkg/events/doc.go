/*
Package events provides an in-memory event broker for the ingestion engine's
change-stream notifications.

Subscribers (an HTTP long-poll handle, a downstream indexer, an operator
CLI watch command) see reference lifecycle transitions and terminal-good
artifact commits without polling the index store. Delivery is best-effort:
a slow subscriber drops events rather than blocking publication.

	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.ReferenceID)
		}
	}()
	broker.Publish(&events.Event{Type: events.EventArtifactStored, ReferenceID: id, ContentHash: hash})
*/
package events
