package store

import (
	"context"

	"github.com/google/uuid"
)

// The store is the single writer of durable state. Every mutation is
// serializable with respect to other mutations touching the same rows;
// reads are read-committed.

// UserStore manages agent identities.
type UserStore interface {
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, uid string) (*User, error)
	GetUserByHandle(ctx context.Context, teamName, handle string) (*User, error)
	GetUsersByTeam(ctx context.Context, teamName string) ([]User, error)
	TouchLastSeen(ctx context.Context, uid string) error
}

// ChatStore manages point-to-point chats and their messages.
type ChatStore interface {
	InsertChat(ctx context.Context, id string, participants []string) (*Chat, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	GetChatsByUser(ctx context.Context, uid string) ([]Chat, error)
	// AppendMessage is atomic under (chatId, timestamp) and increments every
	// other participant's unread counter in the same transaction.
	AppendMessage(ctx context.Context, m *ChatMessage) (*ChatMessage, error)
	GetMessages(ctx context.Context, chatID string, limit int, afterID int64) ([]ChatMessage, error)
	MarkChatRead(ctx context.Context, chatID, uid string) error
	UnreadCount(ctx context.Context, chatID, uid string) (int, error)
}

// TaskStore manages team-scoped tasks.
type TaskStore interface {
	InsertTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	// UpdateTaskStatus maintains updatedAt; a transition to the current
	// status is an idempotent no-op (returns the unchanged row).
	UpdateTaskStatus(ctx context.Context, id, status string) (*Task, error)
	ListTasksByTeam(ctx context.Context, teamName string) ([]Task, error)
}

// WorkItemStore manages work units and convoy/batch dispatch.
type WorkItemStore interface {
	CreateWorkItem(ctx context.Context, w *WorkItem) error
	GetWorkItem(ctx context.Context, id uuid.UUID) (*WorkItem, error)
	ListWorkItems(ctx context.Context, status string, limit int) ([]WorkItem, error)
	// AssignWorkItem atomically sets assignedTo and flips pending →
	// in_progress. Returns false when the item is already assigned (CAS).
	AssignWorkItem(ctx context.Context, id uuid.UUID, handle string) (bool, error)
	UpdateWorkItemStatus(ctx context.Context, id uuid.UUID, status string) error
	// DispatchBatch assigns every pending member of the batch to handle in
	// one transaction, returning the count assigned.
	DispatchBatch(ctx context.Context, batchID uuid.UUID, handle string) (int, error)
	CreateBatch(ctx context.Context, b *Batch) error
	ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]WorkItem, error)
	PlaceBid(ctx context.Context, b *Bid) error
	ListBids(ctx context.Context, workItemID uuid.UUID) ([]Bid, error)
}

// WorkerStore persists worker lifecycle rows owned by the supervisor.
type WorkerStore interface {
	InsertWorker(ctx context.Context, w *Worker) error
	GetWorker(ctx context.Context, id uuid.UUID) (*Worker, error)
	GetWorkerByHandle(ctx context.Context, teamName, handle string) (*Worker, error)
	ListWorkers(ctx context.Context, teamName string) ([]Worker, error)
	UpdateWorker(ctx context.Context, w *Worker) error
	CountLiveWorkers(ctx context.Context, swarmID *uuid.UUID) (int, error)
}

// MailStore manages point-to-point mail and handoffs.
type MailStore interface {
	SendMail(ctx context.Context, m *Mail) (*Mail, error)
	MarkMailRead(ctx context.Context, id int64, handle string) error
	// MarkAllMailRead returns the number of messages newly marked.
	MarkAllMailRead(ctx context.Context, handle string) (int, error)
	GetUnreadMail(ctx context.Context, handle string) ([]Mail, error)
	UnreadMailCount(ctx context.Context, handle string) (int, error)
	CreateHandoff(ctx context.Context, h *Handoff) (*Handoff, error)
	AcceptHandoff(ctx context.Context, id int64, handle string) error
	GetHandoffs(ctx context.Context, handle string, pendingOnly bool) ([]Handoff, error)
}

// BlackboardStore is the durable side of the blackboard bus.
type BlackboardStore interface {
	PostBlackboard(ctx context.Context, m *BlackboardMessage) error
	ReadBlackboard(ctx context.Context, f BlackboardFilter) ([]BlackboardMessage, error)
	// MarkBlackboardRead is idempotent per (messageId, readerHandle).
	MarkBlackboardRead(ctx context.Context, ids []uuid.UUID, reader string) (int, error)
	ArchiveBlackboard(ctx context.Context, ids []uuid.UUID) (int, error)
	ArchiveBlackboardOlderThan(ctx context.Context, ageMs int64) (int, error)
	// UnreadBlackboardCount counts unarchived, unexpired, unmarked
	// messages created at or after the reader joined the swarm.
	UnreadBlackboardCount(ctx context.Context, swarmID uuid.UUID, reader string) (int, error)
}

// CheckpointStore manages worker resume snapshots.
type CheckpointStore interface {
	CreateCheckpoint(ctx context.Context, c *Checkpoint) error
	GetCheckpoint(ctx context.Context, id uuid.UUID) (*Checkpoint, error)
	LatestCheckpoint(ctx context.Context, workerHandle string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, status string, limit int) ([]Checkpoint, error)
	ResolveCheckpoint(ctx context.Context, id uuid.UUID, status string) error
}

// SpawnQueueStore backs the planner.
type SpawnQueueStore interface {
	EnqueueSpawn(ctx context.Context, it *SpawnItem) error
	GetSpawnItem(ctx context.Context, id uuid.UUID) (*SpawnItem, error)
	// GetReadySpawnItems returns pending items ordered by
	// (priority DESC, createdAt ASC, id), up to limit. Dependency and cap
	// checks are the planner's job.
	GetReadySpawnItems(ctx context.Context, limit int) ([]SpawnItem, error)
	ListSpawnItems(ctx context.Context, status string, limit int) ([]SpawnItem, error)
	// UpdateSpawnStatus flips status and records workerId / reason. The
	// pending→cancelled transition fails with Conflict once the item left
	// pending.
	UpdateSpawnStatus(ctx context.Context, id uuid.UUID, status string, workerID *uuid.UUID, reason string) error
	CountSpawnedBySource(ctx context.Context, source string, statuses []string) (int, error)
}

// SwarmStore manages swarm groupings.
type SwarmStore interface {
	CreateSwarm(ctx context.Context, s *Swarm) error
	GetSwarm(ctx context.Context, id uuid.UUID) (*Swarm, error)
	ListSwarms(ctx context.Context) ([]Swarm, error)
	DeleteSwarm(ctx context.Context, id uuid.UUID) error
}

// CreditStore is the ledger's transactional backend.
type CreditStore interface {
	GetAccount(ctx context.Context, swarmID uuid.UUID, handle string) (*CreditAccount, error)
	// RecordCreditTx recomputes the balance (clamped at zero), writes the
	// transaction row, and returns the new account snapshot, atomically.
	RecordCreditTx(ctx context.Context, tx *CreditTx) (*CreditAccount, error)
	// Transfer runs both sides under a single transaction.
	Transfer(ctx context.Context, swarmID uuid.UUID, from, to string, amount float64, reason string) error
	RecordTaskOutcome(ctx context.Context, swarmID uuid.UUID, handle string, success bool) (*CreditAccount, error)
	DecayReputation(ctx context.Context, rate float64, inactivityMs int64) (int, error)
	Leaderboard(ctx context.Context, swarmID uuid.UUID, orderBy string, limit int) ([]CreditAccount, error)
	ListTransactions(ctx context.Context, swarmID uuid.UUID, handle string, limit int) ([]CreditTx, error)
}

// BeliefStore upserts per-(swarm, agent, subject) beliefs. Meta-beliefs are
// beliefs one agent holds about another agent's beliefs, keyed by the
// additional aboutHandle.
type BeliefStore interface {
	UpsertBelief(ctx context.Context, b *Belief) error
	GetBeliefs(ctx context.Context, swarmID uuid.UUID, handle string) ([]Belief, error)
	UpsertMetaBelief(ctx context.Context, b *MetaBelief) error
	GetMetaBeliefs(ctx context.Context, swarmID uuid.UUID, handle, aboutHandle string) ([]MetaBelief, error)
}

// ScheduleStore persists scheduler configuration.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	MarkScheduleRun(ctx context.Context, id uuid.UUID, lastRun, nextRun int64) error
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
}

// SummaryStore is the TLDR cache.
type SummaryStore interface {
	UpsertSummary(ctx context.Context, s *Summary) error
	GetSummary(ctx context.Context, handle string) (*Summary, error)
}

// Stores bundles every sub-store over one backend.
type Stores struct {
	Users       UserStore
	Chats       ChatStore
	Tasks       TaskStore
	WorkItems   WorkItemStore
	Workers     WorkerStore
	Mail        MailStore
	Blackboard  BlackboardStore
	Checkpoints CheckpointStore
	SpawnQueue  SpawnQueueStore
	Swarms      SwarmStore
	Credits     CreditStore
	Beliefs     BeliefStore
	Schedules   ScheduleStore
	Summaries   SummaryStore
}
