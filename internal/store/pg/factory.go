package pg

import (
	"database/sql"

	"github.com/fleetworks/fleetd/internal/store"
)

// NewStores wires every sub-store over one shared connection pool.
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Users:       &userStore{db: db},
		Chats:       &chatStore{db: db},
		Tasks:       &taskStore{db: db},
		WorkItems:   &workItemStore{db: db},
		Workers:     &workerStore{db: db},
		Mail:        &mailStore{db: db},
		Blackboard:  &blackboardStore{db: db},
		Checkpoints: &checkpointStore{db: db},
		SpawnQueue:  &spawnQueueStore{db: db},
		Swarms:      &swarmStore{db: db},
		Credits:     &creditStore{db: db},
		Beliefs:     &beliefStore{db: db},
		Schedules:   &scheduleStore{db: db},
		Summaries:   &summaryStore{db: db},
	}
}
