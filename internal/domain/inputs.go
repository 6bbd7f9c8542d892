package domain

type CreatePeerInput struct {
	Title     string
	PublicKey string
	Tags      []string
	Services  []Service
	SubnetID  int
}

// UpdatePeerInput leaves nil fields untouched.
type UpdatePeerInput struct {
	Title     *string
	PublicKey *string
	Tags      []string
	Services  []Service
	SubnetID  *int
}

type ReviewPeerInput struct {
	Status ApprovalStatus
}

type UpdateSettingsInput struct {
	Review *bool
	Server *ServerConfig
}

type RuleInput struct {
	Title    string
	Type     string
	Src      string
	Dst      string
	Protocol string
	Port     string
}
