package protocol

// ProtocolVersion is bumped whenever a wire-visible frame changes shape.
const ProtocolVersion = 3

// WebSocket event types pushed from server to client.
const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPong         = "pong"
	EventError        = "error"
	EventShutdown     = "shutdown"

	EventNewMessage   = "new_message"
	EventBroadcast    = "broadcast"
	EventTaskAssigned = "task_assigned"
	EventTaskUpdated  = "task_updated"

	EventBlackboardPost = "blackboard_post"

	EventWorkerReady  = "worker:ready"
	EventWorkerOutput = "worker:output"
	EventWorkerTool   = "worker:tool"
	EventWorkerResult = "worker:result"
	EventWorkerError  = "worker:error"
	EventWorkerExit   = "worker:exit"

	EventSpawnQueued   = "spawn:queued"
	EventSpawnAdmitted = "spawn:admitted"
	EventSpawnRejected = "spawn:rejected"

	EventScheduleFired = "schedule:fired"
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
)

// Client frame types received over the WebSocket.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
)

// Agent stdout event types (one JSON object per line, "type" discriminator).
const (
	AgentEventSystem    = "system"
	AgentEventAssistant = "assistant"
	AgentEventResult    = "result"
	AgentEventError     = "error"

	AgentSubtypeInit = "init"
)

// Well-known topic prefixes for the fan-out map.
const (
	TopicChatPrefix       = "chat:"
	TopicTeamPrefix       = "team:"
	TopicBlackboardPrefix = "blackboard:"
	TopicWorkers          = "workers"
)
