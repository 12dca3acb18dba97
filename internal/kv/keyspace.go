package kv

// Keyspace builds the key layout described in §6.3: a single flat,
// ordered namespace partitioned by record type, so a range scan over one
// partition never crosses into another.
//
//	workflows/{nsid}/{version}                 -> WorkflowDefinition
//	workflows/{nsid}/latest                    -> string version pointer
//	instances/{instance_id}                    -> Instance
//	instances/{instance_id}/lock               -> lock holder + expiry
//	instance_idempotency/{key}                 -> instance_id
//	tasks/ready/{-priority}/{scheduled_at}/{task_id} -> Task (ready, ordered)
//	tasks/leased/{task_id}                      -> Task (claimed)
//	tasks/dead/{task_id}                        -> Task (dead-lettered)
//	tasks/idempotency/{key}                     -> completion result (§4.3)
//	events/{instance_id}/{timestamp}/{seq}      -> eventlog.Entry
//	workers/{worker_id}                         -> Worker
type Keyspace struct {
	root string
}

// NewKeyspace prefixes every key this Keyspace builds with root, letting
// one store back several logically independent deployments (tests use a
// fresh root per test; cmd/workerd uses config.KVConfig.RootPrefix).
func NewKeyspace(root string) Keyspace {
	return Keyspace{root: root}
}

func (k Keyspace) key(segments ...string) Key {
	all := append([]string{k.root}, segments...)
	return Tuple(all...)
}

func (k Keyspace) WorkflowsPrefix() Key { return k.key("workflows") }

func (k Keyspace) Workflow(nsid, version string) Key {
	return k.key("workflows", nsid, version)
}

func (k Keyspace) WorkflowLatest(nsid string) Key {
	return k.key("workflows", nsid, "latest")
}

func (k Keyspace) WorkflowVersionsRange(nsid string) (begin, end Key) {
	return PrefixRange(k.key("workflows", nsid))
}

func (k Keyspace) Instance(instanceID string) Key {
	return k.key("instances", instanceID)
}

func (k Keyspace) InstanceLock(instanceID string) Key {
	return k.key("instances", instanceID, "lock")
}

func (k Keyspace) InstancesRange() (begin, end Key) {
	return PrefixRange(k.key("instances"))
}

// InstanceIdempotency indexes create_instance's idempotency_key to the
// instance it produced, so a retried create_instance call with the same
// key returns the existing instance instead of creating a second one. It
// is a sibling partition of "instances", not a child of it, so it never
// shows up in an InstancesRange scan.
func (k Keyspace) InstanceIdempotency(idempotencyKey string) Key {
	return k.key("instance_idempotency", idempotencyKey)
}

// ReadyTask orders ready tasks by descending priority, then by scheduled
// time within a priority band, matching the
// "tasks/ready/{-priority}/{scheduled_at}/{id}" ordering the queue's claim
// operation range-scans over.
func (k Keyspace) ReadyTask(priority int32, scheduledAtUnixNano int64, taskID string) Key {
	return k.key("tasks", "ready", EncodeDescendingInt32(priority), EncodeInt64(scheduledAtUnixNano), taskID)
}

func (k Keyspace) ReadyTasksRange() (begin, end Key) {
	return PrefixRange(k.key("tasks", "ready"))
}

func (k Keyspace) LeasedTask(taskID string) Key {
	return k.key("tasks", "leased", taskID)
}

func (k Keyspace) LeasedTasksRange() (begin, end Key) {
	return PrefixRange(k.key("tasks", "leased"))
}

func (k Keyspace) DeadTask(taskID string) Key {
	return k.key("tasks", "dead", taskID)
}

func (k Keyspace) DeadTasksRange() (begin, end Key) {
	return PrefixRange(k.key("tasks", "dead"))
}

// TaskIdempotency stores the result of a completed task so a retried
// enqueue carrying the same idempotency key can be rejected as a
// duplicate (§4.3's DuplicateIdempotencyKey fast-fail path).
func (k Keyspace) TaskIdempotency(idempotencyKey string) Key {
	return k.key("tasks", "idempotency", idempotencyKey)
}

func (k Keyspace) Event(instanceID string, timestampUnixNano int64, seq string) Key {
	return k.key("events", instanceID, EncodeInt64(timestampUnixNano), seq)
}

func (k Keyspace) EventsRange(instanceID string) (begin, end Key) {
	return PrefixRange(k.key("events", instanceID))
}

func (k Keyspace) Worker(workerID string) Key {
	return k.key("workers", workerID)
}

func (k Keyspace) WorkersRange() (begin, end Key) {
	return PrefixRange(k.key("workers"))
}
