package hooks

// Canonical topic names. The bus itself accepts any string; these constants
// keep kernel code out of the typo trap the known-topic registry exists for.
const (
	TopicDataBeforeCreate = "data.beforeCreate"
	TopicDataCreate       = "data.create"
	TopicDataBeforeUpdate = "data.beforeUpdate"
	TopicDataUpdate       = "data.update"
	TopicDataBeforeDelete = "data.beforeDelete"
	TopicDataDelete       = "data.delete"
	TopicDataBeforeFind   = "data.beforeFind"
	TopicDataFind         = "data.find"

	TopicJobEnqueued  = "job.enqueued"
	TopicJobScheduled = "job.scheduled"
	TopicJobStarted   = "job.started"
	TopicJobCompleted = "job.completed"
	TopicJobFailed    = "job.failed"
	TopicJobRetried   = "job.retried"
	TopicJobCancelled = "job.cancelled"

	TopicAuditRecorded = "audit.event.recorded"

	TopicNotificationQueued = "notification.queued"
	TopicNotificationSent   = "notification.sent"
	TopicNotificationFailed = "notification.failed"

	TopicWorkflowStarted   = "workflow.started"
	TopicWorkflowCompleted = "workflow.completed"
	TopicWorkflowFailed    = "workflow.failed"

	TopicKernelBootstrapped = "kernel.bootstrapped"
	TopicKernelShutdown     = "kernel.shutdown"
	TopicPluginInitialized  = "plugin.initialized"
	TopicPluginStarted      = "plugin.started"
	TopicPluginDestroyed    = "plugin.destroyed"
)

// KnownTopics returns the canonical topic set the kernel seeds the bus with
// at boot.
func KnownTopics() []string {
	return []string{
		TopicDataBeforeCreate, TopicDataCreate,
		TopicDataBeforeUpdate, TopicDataUpdate,
		TopicDataBeforeDelete, TopicDataDelete,
		TopicDataBeforeFind, TopicDataFind,
		TopicJobEnqueued, TopicJobScheduled, TopicJobStarted,
		TopicJobCompleted, TopicJobFailed, TopicJobRetried, TopicJobCancelled,
		TopicAuditRecorded,
		TopicNotificationQueued, TopicNotificationSent, TopicNotificationFailed,
		TopicWorkflowStarted, TopicWorkflowCompleted, TopicWorkflowFailed,
		TopicKernelBootstrapped, TopicKernelShutdown,
		TopicPluginInitialized, TopicPluginStarted, TopicPluginDestroyed,
	}
}
