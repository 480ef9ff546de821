package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// All timestamps are integer milliseconds since the Unix epoch. Zero means
// "not set" for optional times (lastSeen, readAt, dismissedAt, ...).

// ============================================================
// Identity
// ============================================================

// Agent types, in no particular order of privilege; the permission matrix
// in the gateway decides what each type may do.
const (
	AgentTypeTeamLead    = "team-lead"
	AgentTypeWorker      = "worker"
	AgentTypeMonitor     = "monitor"
	AgentTypeNotifier    = "notifier"
	AgentTypeMerger      = "merger"
	AgentTypeCoordinator = "coordinator"
)

// ValidAgentType reports whether t is a member of the closed agent-type set.
func ValidAgentType(t string) bool {
	switch t {
	case AgentTypeTeamLead, AgentTypeWorker, AgentTypeMonitor,
		AgentTypeNotifier, AgentTypeMerger, AgentTypeCoordinator:
		return true
	}
	return false
}

// User is a registered agent identity. UID is the deterministic digest of
// teamName+":"+handle, so re-registering yields the same row.
type User struct {
	UID       string `json:"uid"`
	Handle    string `json:"handle"`
	TeamName  string `json:"teamName"`
	AgentType string `json:"agentType"`
	CreatedAt int64  `json:"createdAt"`
	LastSeen  int64  `json:"lastSeen,omitempty"`
}

// ============================================================
// Chats & messages
// ============================================================

type Chat struct {
	ID           string   `json:"chatId"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"createdAt"`
}

type ChatMessage struct {
	ID        int64           `json:"id"`
	ChatID    string          `json:"chatId"`
	FromUID   string          `json:"from"`
	Text      string          `json:"text"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ============================================================
// Tasks (team-scoped, human-readable short IDs)
// ============================================================

const (
	TaskStatusOpen       = "open"
	TaskStatusInProgress = "in_progress"
	TaskStatusResolved   = "resolved"
	TaskStatusBlocked    = "blocked"
	TaskStatusCancelled  = "cancelled"
)

// ValidTaskStatus reports membership in the closed task status set.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusResolved,
		TaskStatusBlocked, TaskStatusCancelled:
		return true
	}
	return false
}

type Task struct {
	ID              string `json:"id"`
	TeamName        string `json:"teamName"`
	Subject         string `json:"subject"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status"`
	OwnerHandle     string `json:"ownerHandle,omitempty"`
	CreatedByHandle string `json:"createdByHandle"`
	Priority        int    `json:"priority"` // 1..5
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
	CompletedAt     int64  `json:"completedAt,omitempty"`
}

// ============================================================
// Work items & batches (convoys)
// ============================================================

const (
	WorkItemStatusPending    = "pending"
	WorkItemStatusInProgress = "in_progress"
	WorkItemStatusCompleted  = "completed"
	WorkItemStatusBlocked    = "blocked"
	WorkItemStatusCancelled  = "cancelled"
)

func ValidWorkItemStatus(s string) bool {
	switch s {
	case WorkItemStatusPending, WorkItemStatusInProgress, WorkItemStatusCompleted,
		WorkItemStatusBlocked, WorkItemStatusCancelled:
		return true
	}
	return false
}

type WorkItem struct {
	ID              uuid.UUID       `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Status          string          `json:"status"`
	AssignedTo      string          `json:"assignedTo,omitempty"`
	CreatedByHandle string          `json:"createdByHandle"`
	Priority        int             `json:"priority"` // 1..5
	BlockedBy       []uuid.UUID     `json:"blockedBy,omitempty"`
	BatchID         *uuid.UUID      `json:"batchId,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
	UpdatedAt       int64           `json:"updatedAt"`
	CompletedAt     int64           `json:"completedAt,omitempty"`
}

// Batch is a named, atomically-dispatchable group of work items.
type Batch struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt int64     `json:"createdAt"`
}

// Bid is a worker's offer on an open work item (reputation-weighted award).
type Bid struct {
	ID               uuid.UUID `json:"id"`
	WorkItemID       uuid.UUID `json:"workItemId"`
	BidderHandle     string    `json:"bidderHandle"`
	Amount           float64   `json:"amount"`
	Confidence       float64   `json:"confidence"` // 0..1
	EstimatedMinutes float64   `json:"estimatedMinutes,omitempty"`
	CreatedAt        int64     `json:"createdAt"`
}

// ============================================================
// Workers
// ============================================================

const (
	WorkerStatePending  = "pending" // enqueued, not yet forked
	WorkerStateStarting = "starting"
	WorkerStateReady    = "ready"
	WorkerStateWorking  = "working"
	WorkerStateStopping = "stopping"
	WorkerStateStopped  = "stopped"
	WorkerStateError    = "error"
)

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Spawn transports. Callers never branch on this; it only records which
// transport the supervisor picked.
const (
	SpawnModeProcess = "process"
	SpawnModeMemory  = "memory"
)

type Worker struct {
	ID            uuid.UUID  `json:"id"`
	Handle        string     `json:"handle"`
	TeamName      string     `json:"teamName"`
	State         string     `json:"state"`
	Health        string     `json:"health"`
	PID           int        `json:"pid,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
	Role          string     `json:"role"`
	SwarmID       *uuid.UUID `json:"swarmId,omitempty"`
	DepthLevel    int        `json:"depthLevel"`
	RestartCount  int        `json:"restartCount"`
	CurrentTaskID string     `json:"currentTaskId,omitempty"`
	WorkingDir    string     `json:"workingDir"`
	SpawnMode     string     `json:"spawnMode"`
	SpawnedAt     int64      `json:"spawnedAt"`
	DismissedAt   int64      `json:"dismissedAt,omitempty"`
	LastHeartbeat int64      `json:"lastHeartbeat"`
}

// Live reports whether the worker still counts against swarm/global caps.
func (w *Worker) Live() bool {
	switch w.State {
	case WorkerStateStopped, WorkerStateError:
		return false
	}
	return w.DismissedAt == 0
}

// ============================================================
// Mail & handoffs
// ============================================================

type Mail struct {
	ID         int64  `json:"id"`
	FromHandle string `json:"fromHandle"`
	ToHandle   string `json:"toHandle"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body"`
	ReadAt     int64  `json:"readAt,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

type Handoff struct {
	ID         int64           `json:"id"`
	FromHandle string          `json:"fromHandle"`
	ToHandle   string          `json:"toHandle"`
	Context    json.RawMessage `json:"context"`
	AcceptedAt int64           `json:"acceptedAt,omitempty"`
	CreatedAt  int64           `json:"createdAt"`
}

// ============================================================
// Blackboard
// ============================================================

const (
	BlackboardTypeRequest    = "request"
	BlackboardTypeResponse   = "response"
	BlackboardTypeStatus     = "status"
	BlackboardTypeDirective  = "directive"
	BlackboardTypeCheckpoint = "checkpoint"
)

func ValidBlackboardType(t string) bool {
	switch t {
	case BlackboardTypeRequest, BlackboardTypeResponse, BlackboardTypeStatus,
		BlackboardTypeDirective, BlackboardTypeCheckpoint:
		return true
	}
	return false
}

const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// PriorityRank maps message/spawn priorities to their ordering weight.
var PriorityRank = map[string]int{
	PriorityLow:      1,
	PriorityNormal:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

func ValidPriority(p string) bool { _, ok := PriorityRank[p]; return ok }

type BlackboardMessage struct {
	ID           uuid.UUID       `json:"id"`
	SwarmID      uuid.UUID       `json:"swarmId"`
	SenderHandle string          `json:"senderHandle"`
	MessageType  string          `json:"messageType"`
	Priority     string          `json:"priority"`
	Payload      json.RawMessage `json:"payload"`
	TargetHandle string          `json:"targetHandle,omitempty"`
	CreatedAt    int64           `json:"createdAt"`
	ExpiresAt    int64           `json:"expiresAt,omitempty"`
	ArchivedAt   int64           `json:"archivedAt,omitempty"`
}

// BlackboardFilter narrows ReadBlackboard. Limit is capped at 1000 by the
// store; UnreadOnly requires ReaderHandle.
type BlackboardFilter struct {
	SwarmID      uuid.UUID
	MessageType  string
	MinPriority  string // inclusive lower bound by PriorityRank
	UnreadOnly   bool
	ReaderHandle string
	Limit        int
}

// ============================================================
// Checkpoints
// ============================================================

const (
	CheckpointStatusPending  = "pending"
	CheckpointStatusAccepted = "accepted"
	CheckpointStatusRejected = "rejected"
)

type CheckpointTask struct {
	Task  string   `json:"task"`
	Files []string `json:"files,omitempty"`
}

type Checkpoint struct {
	ID              uuid.UUID        `json:"id"`
	WorkerHandle    string           `json:"workerHandle"`
	FromHandle      string           `json:"fromHandle"`
	ToHandle        string           `json:"toHandle"`
	Goal            string           `json:"goal"`
	Now             string           `json:"now"`
	Test            string           `json:"test,omitempty"`
	DoneThisSession []CheckpointTask `json:"doneThisSession,omitempty"`
	Blockers        []string         `json:"blockers,omitempty"`
	Questions       []string         `json:"questions,omitempty"`
	Next            []string         `json:"next,omitempty"`
	Status          string           `json:"status"`
	CreatedAt       int64            `json:"createdAt"`
}

// FormatForResume renders the checkpoint as the initial prompt for a
// restarted worker.
func (c *Checkpoint) FormatForResume() string {
	var b strings.Builder
	b.WriteString("Resuming from checkpoint.\n\n")
	fmt.Fprintf(&b, "## Goal\n%s\n\n## Where you were\n%s\n", c.Goal, c.Now)
	if c.Test != "" {
		fmt.Fprintf(&b, "\n## Verification\n%s\n", c.Test)
	}
	if len(c.DoneThisSession) > 0 {
		b.WriteString("\n## Done this session\n")
		for _, t := range c.DoneThisSession {
			fmt.Fprintf(&b, "- %s", t.Task)
			if len(t.Files) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(t.Files, ", "))
			}
			b.WriteString("\n")
		}
	}
	if len(c.Blockers) > 0 {
		b.WriteString("\n## Blockers\n")
		for _, s := range c.Blockers {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(c.Next) > 0 {
		b.WriteString("\n## Next\n")
		for _, s := range c.Next {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

// ============================================================
// Spawn queue
// ============================================================

const (
	SpawnStatusPending   = "pending"
	SpawnStatusApproved  = "approved"
	SpawnStatusSpawned   = "spawned"
	SpawnStatusRejected  = "rejected"
	SpawnStatusCancelled = "cancelled"
)

// Spawn item provenance. Scheduler-originated items count against the
// scheduler's concurrency cap; API-originated ones do not.
const (
	SpawnSourceAPI       = "api"
	SpawnSourceScheduler = "scheduler"
)

type SpawnItem struct {
	ID              uuid.UUID       `json:"id"`
	RequesterHandle string          `json:"requesterHandle"`
	TargetAgentType string          `json:"targetAgentType"`
	DepthLevel      int             `json:"depthLevel"`
	SwarmID         *uuid.UUID      `json:"swarmId,omitempty"`
	Priority        string          `json:"priority"`
	DependsOn       []uuid.UUID     `json:"dependsOn,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          string          `json:"status"`
	Source          string          `json:"source"`
	Retries         int             `json:"retries,omitempty"`
	RetryDelayMs    int64           `json:"retryDelayMs,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
	SpawnedAt       int64           `json:"spawnedAt,omitempty"`
	WorkerID        *uuid.UUID      `json:"workerId,omitempty"`
}

// ============================================================
// Swarms
// ============================================================

const DefaultSwarmMaxAgents = 10

type Swarm struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	MaxAgents int       `json:"maxAgents"`
	CreatedAt int64     `json:"createdAt"`
}

// ============================================================
// Credits & reputation
// ============================================================

const (
	TxEarn       = "earn"
	TxSpend      = "spend"
	TxBonus      = "bonus"
	TxPenalty    = "penalty"
	TxTransfer   = "transfer"
	TxAdjustment = "adjustment"
)

func ValidTxType(t string) bool {
	switch t {
	case TxEarn, TxSpend, TxBonus, TxPenalty, TxTransfer, TxAdjustment:
		return true
	}
	return false
}

// New accounts materialize with this balance and a neutral reputation.
const (
	InitialBalance    = 100.0
	InitialReputation = 0.5
)

type CreditAccount struct {
	SwarmID         uuid.UUID `json:"swarmId"`
	AgentHandle     string    `json:"agentHandle"`
	Balance         float64   `json:"balance"`
	ReputationScore float64   `json:"reputationScore"` // [0,1]
	TotalEarned     float64   `json:"totalEarned"`
	TotalSpent      float64   `json:"totalSpent"`
	TaskCount       int       `json:"taskCount"`
	SuccessCount    int       `json:"successCount"`
	UpdatedAt       int64     `json:"updatedAt"`
}

// SuccessRate derives successCount/taskCount with a floor of one task.
func (a *CreditAccount) SuccessRate() float64 {
	n := a.TaskCount
	if n < 1 {
		n = 1
	}
	return float64(a.SuccessCount) / float64(n)
}

type CreditTx struct {
	ID            uuid.UUID `json:"id"`
	SwarmID       uuid.UUID `json:"swarmId"`
	AgentHandle   string    `json:"agentHandle"`
	Type          string    `json:"type"`
	Amount        float64   `json:"amount"` // signed for transfer/adjustment
	BalanceAfter  float64   `json:"balanceAfter"`
	ReferenceType string    `json:"referenceType,omitempty"`
	ReferenceID   string    `json:"referenceId,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     int64     `json:"createdAt"`
}

// Leaderboard orderings.
const (
	LeaderboardByBalance     = "balance"
	LeaderboardByReputation  = "reputation"
	LeaderboardByTotalEarned = "totalEarned"
	LeaderboardByTaskCount   = "taskCount"
)

// ============================================================
// Beliefs
// ============================================================

type Belief struct {
	SwarmID     uuid.UUID       `json:"swarmId"`
	AgentHandle string          `json:"agentHandle"`
	Subject     string          `json:"subject"`
	Belief      json.RawMessage `json:"belief"`
	Confidence  float64         `json:"confidence"`
	UpdatedAt   int64           `json:"updatedAt"`
}

// MetaBelief is what AgentHandle believes AboutHandle believes on Subject.
type MetaBelief struct {
	SwarmID     uuid.UUID       `json:"swarmId"`
	AgentHandle string          `json:"agentHandle"`
	AboutHandle string          `json:"aboutHandle"`
	Subject     string          `json:"subject"`
	Belief      json.RawMessage `json:"belief"`
	Confidence  float64         `json:"confidence"`
	UpdatedAt   int64           `json:"updatedAt"`
}

// ============================================================
// Schedules & templates
// ============================================================

type Schedule struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	CronExpr   string      `json:"cronExpr"`
	Tasks      []uuid.UUID `json:"tasks"` // template IDs
	Repository string      `json:"repository,omitempty"`
	Enabled    bool        `json:"enabled"`
	LastRun    int64       `json:"lastRun,omitempty"`
	NextRun    int64       `json:"nextRun,omitempty"`
}

type Template struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Category         string    `json:"category,omitempty"`
	Role             string    `json:"role"` // maps to targetAgentType
	PromptTemplate   string    `json:"promptTemplate"`
	EstimatedMinutes int       `json:"estimatedMinutes,omitempty"`
	RequiredContext  []string  `json:"requiredContext,omitempty"`
}

// ============================================================
// TLDR summary cache
// ============================================================

// Summary is a cached per-handle digest of recent activity, refreshed
// opportunistically by callers.
type Summary struct {
	Handle    string `json:"handle"`
	Text      string `json:"text"`
	UpdatedAt int64  `json:"updatedAt"`
}
