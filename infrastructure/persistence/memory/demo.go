package memory

import (
	"time"

	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
)

// DemoUser is the profile the offline backend signs in as.
const DemoUser = "demo-buyer"

// DemoSeller is the other side of the seeded conversation.
const DemoSeller = "demo-seller"

// NewDemoBackend creates a backend seeded with a small marketplace: two profiles, a few
// items, a conversation and some comments.
func NewDemoBackend(now time.Time) *Backend {
	at := func(minutes int) time.Time {
		return now.Add(time.Duration(minutes-60) * time.Minute).UTC()
	}

	b := NewBackend()
	b.Seed("profiles",
		entities.NewRecord(DemoUser, at(0), map[string]any{"username": "buyer", "avatar_url": ""}),
		entities.NewRecord(DemoSeller, at(0), map[string]any{"username": "seller", "avatar_url": ""}),
	)
	b.Seed("items",
		entities.NewRecord("1", at(1), map[string]any{"title": "Desk lamp", "price": 250, "status": "available", "seller_id": DemoSeller}),
		entities.NewRecord("2", at(2), map[string]any{"title": "Calculus textbook", "price": 400, "status": "available", "seller_id": DemoSeller}),
		entities.NewRecord("3", at(3), map[string]any{"title": "Bike helmet", "price": 600, "status": "sold", "seller_id": DemoUser}),
	)
	b.Seed("messages",
		entities.NewRecord("4", at(10), map[string]any{"sender_id": DemoUser, "receiver_id": DemoSeller, "content": "Is the lamp still available?"}),
		entities.NewRecord("5", at(12), map[string]any{"sender_id": DemoSeller, "receiver_id": DemoUser, "content": "Yes, pick up at the library?"}),
	)
	b.Seed("comments",
		entities.NewRecord("6", at(20), map[string]any{"item_id": "2", "user_id": DemoUser, "body": "Which edition?"}),
	)
	b.Seed("reactions",
		entities.NewRecord("7", at(21), map[string]any{"item_id": "1", "user_id": DemoUser, "kind": "like"}),
	)
	b.Seed("collections",
		entities.NewRecord("8", at(22), map[string]any{"item_id": "2", "user_id": DemoUser}),
	)
	return b
}
