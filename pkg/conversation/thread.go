package conversation

import "chatbridge/pkg/model"

// ThreadHandler locates or registers the ThreadInfo a message belongs
// to. It is a separate component (rather than inline logic in the
// manager) so a platform whose thread semantics differ — e.g. one
// without a stable thread id at all, where every direct reply is its
// own thread root — can swap in its own resolution rule without
// touching ConversationManager.
type ThreadHandler interface {
	// Resolve returns the thread id a message belongs to, registering a
	// new ThreadInfo on conv if this is the first message observed for
	// that id. threadID == "" means the message is not part of a thread.
	Resolve(conv *model.ConversationInfo, threadID, messageID string) string
}

// DefaultThreadHandler treats an empty threadID as "no thread" and
// otherwise registers the message as a member of conv.Threads[threadID],
// creating it rooted at the first message seen for that id.
type DefaultThreadHandler struct{}

// Resolve implements ThreadHandler.
func (DefaultThreadHandler) Resolve(conv *model.ConversationInfo, threadID, messageID string) string {
	if threadID == "" {
		return ""
	}
	t := conv.ThreadOrCreate(threadID, messageID)
	t.AddThreadMember(messageID)
	return threadID
}
