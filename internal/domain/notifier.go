package domain

const (
	TopicPeerAdded         = "peer-added"
	TopicPeerEdited        = "peer-edited"
	TopicPeerDeleted       = "peer-deleted"
	TopicSettingsChanged   = "settings-changed"
	TopicCustomRuleAdded   = "custom-rule-added"
	TopicCustomRuleEdited  = "custom-rule-edited"
	TopicCustomRuleDeleted = "custom-rule-deleted"
)

// Scope selects the recipients of a message: every connection of the
// named identities plus, when Admins is set, every administrator connection.
type Scope struct {
	To     []string
	Admins bool
}

type Notifier interface {
	Emit(topic string, payload any, scope Scope) int
}

type nopNotifier struct{}

func (nopNotifier) Emit(string, any, Scope) int { return 0 }

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
