package http

import (
	"time"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/Flarenzy/wg-ha/internal/task"
)

// ErrorResponse is a simple envelope for error messages.
type ErrorResponse struct {
	Error string `json:"error" example:"peer not found"`
}

type RuleDTO struct {
	Protocol string `json:"protocol" example:"tcp"`
	Ports    []int  `json:"ports,omitempty" example:"22,443"`
}

type ServiceDTO struct {
	Rules       []RuleDTO `json:"rules"`
	AllowedTags []string  `json:"allowed_tags" example:"ops"`
}

// PeerResponse is a peer as returned to clients and used in Swagger.
type PeerResponse struct {
	ID         string       `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Title      string       `json:"title" example:"laptop"`
	UserID     string       `json:"user_id" example:"f3c1b2a0-1111-2222-3333-444455556666"`
	PublicKey  string       `json:"public_key" example:"xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="`
	AllowedIPs []string     `json:"allowed_ips" example:"10.0.0.1/32,fdc9:281f:4d7:9ee9::1/128"`
	Tags       []string     `json:"tags" example:"ops"`
	Services   []ServiceDTO `json:"services"`
	Permitted  string       `json:"permitted" example:"ACCEPTED"`
	Subnet     int          `json:"subnet" example:"0"`
	CreatedAt  time.Time    `json:"created_at" example:"2024-05-10T15:04:05Z"`
	UpdatedAt  time.Time    `json:"updated_at" example:"2024-05-10T15:04:05Z"`
}

// AppliedPeerResponse is one entry of the deployed peer set.
type AppliedPeerResponse struct {
	UserID     string       `json:"user_id"`
	PublicKey  string       `json:"public_key"`
	AllowedIPs []string     `json:"allowed_ips"`
	Tags       []string     `json:"tags"`
	Services   []ServiceDTO `json:"services"`
	Permitted  string       `json:"permitted"`
	Subnet     int          `json:"subnet"`
}

// CreatePeerRequest is the payload accepted when creating a peer.
type CreatePeerRequest struct {
	Title     string       `json:"title" example:"laptop"`
	PublicKey string       `json:"public_key" example:"xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=" validate:"required"`
	Tags      []string     `json:"tags" example:"ops"`
	Services  []ServiceDTO `json:"services"`
	Subnet    int          `json:"subnet" example:"0"`
}

// UpdatePeerRequest leaves omitted fields unchanged.
type UpdatePeerRequest struct {
	Title     *string      `json:"title,omitempty" example:"desktop"`
	PublicKey *string      `json:"public_key,omitempty"`
	Tags      []string     `json:"tags,omitempty"`
	Services  []ServiceDTO `json:"services,omitempty"`
	Subnet    *int         `json:"subnet,omitempty" example:"1"`
}

type ReviewPeerRequest struct {
	Permitted string `json:"permitted" example:"ACCEPTED"`
}

type ServerDTO struct {
	Address    []string `json:"address" example:"10.0.0.1/24,fdc9:281f:4d7:9ee9::1/112"`
	PrivateKey string   `json:"private_key,omitempty"`
	PublicKey  string   `json:"public_key,omitempty"`
	Endpoint   string   `json:"endpoint" example:"vpn.example.com:51820"`
	ListenPort int      `json:"listen_port" example:"51820"`
}

type SettingsResponse struct {
	Review bool      `json:"review"`
	Server ServerDTO `json:"server"`
}

// UpdateSettingsRequest leaves omitted fields unchanged.
type UpdateSettingsRequest struct {
	Review *bool      `json:"review,omitempty"`
	Server *ServerDTO `json:"server,omitempty"`
}

// RunPlaybookRequest submits a manual playbook run.
type RunPlaybookRequest struct {
	Playbook  string            `json:"playbook" example:"site.yml"`
	ExtraVars map[string]string `json:"extra_vars,omitempty"`
}

type PlaybookStatusResponse struct {
	State  string `json:"state" example:"PROGRESS"`
	Output string `json:"output" example:"PLAY [all] ****"`
}

type CustomRuleDTO struct {
	ID       string `json:"id,omitempty" example:"550e8400-e29b-41d4-a716-446655440000"`
	Title    string `json:"title" example:"dns"`
	Type     string `json:"type" example:"accept"`
	Src      string `json:"src" example:"10.0.0.0/16"`
	Dst      string `json:"dst" example:"10.0.255.53"`
	Protocol string `json:"protocol" example:"udp"`
	Port     string `json:"port" example:"53"`
}

type UserResponse struct {
	ID       string    `json:"id"`
	Username string    `json:"username" example:"alice"`
	Roles    []string  `json:"roles" example:"app-user"`
	LastSeen time.Time `json:"last_seen"`
}

func servicesToDTO(services []domain.Service) []ServiceDTO {
	out := make([]ServiceDTO, 0, len(services))
	for _, svc := range services {
		rules := make([]RuleDTO, 0, len(svc.Rules))
		for _, rule := range svc.Rules {
			rules = append(rules, RuleDTO{Protocol: rule.Protocol, Ports: rule.Ports})
		}
		out = append(out, ServiceDTO{Rules: rules, AllowedTags: nonNil(svc.AllowedTags)})
	}
	return out
}

func servicesFromDTO(services []ServiceDTO) []domain.Service {
	if services == nil {
		return nil
	}
	out := make([]domain.Service, 0, len(services))
	for _, svc := range services {
		rules := make([]domain.Rule, 0, len(svc.Rules))
		for _, rule := range svc.Rules {
			rules = append(rules, domain.Rule{Protocol: rule.Protocol, Ports: rule.Ports})
		}
		out = append(out, domain.Service{Rules: rules, AllowedTags: svc.AllowedTags})
	}
	return out
}

func peerToResponse(p domain.Peer) PeerResponse {
	spec := p.Spec()
	return PeerResponse{
		ID:         string(p.ID),
		Title:      p.Title,
		UserID:     spec.OwnerID,
		PublicKey:  spec.PublicKey,
		AllowedIPs: spec.AllowedIPs,
		Tags:       spec.Tags,
		Services:   servicesToDTO(spec.Services),
		Permitted:  string(spec.Status),
		Subnet:     spec.SubnetID,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func peersToResponse(peers []domain.Peer) []PeerResponse {
	out := make([]PeerResponse, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerToResponse(p))
	}
	return out
}

func appliedToResponse(specs []domain.PeerSpec) []AppliedPeerResponse {
	out := make([]AppliedPeerResponse, 0, len(specs))
	for _, s := range specs {
		out = append(out, AppliedPeerResponse{
			UserID:     s.OwnerID,
			PublicKey:  s.PublicKey,
			AllowedIPs: nonNil(s.AllowedIPs),
			Tags:       nonNil(s.Tags),
			Services:   servicesToDTO(s.Services),
			Permitted:  string(s.Status),
			Subnet:     s.SubnetID,
		})
	}
	return out
}

func (r CreatePeerRequest) toInput() domain.CreatePeerInput {
	return domain.CreatePeerInput{
		Title:     r.Title,
		PublicKey: r.PublicKey,
		Tags:      r.Tags,
		Services:  servicesFromDTO(r.Services),
		SubnetID:  r.Subnet,
	}
}

func (r UpdatePeerRequest) toInput() domain.UpdatePeerInput {
	return domain.UpdatePeerInput{
		Title:     r.Title,
		PublicKey: r.PublicKey,
		Tags:      r.Tags,
		Services:  servicesFromDTO(r.Services),
		SubnetID:  r.Subnet,
	}
}

func settingsToResponse(s domain.Settings) SettingsResponse {
	return SettingsResponse{
		Review: s.Review,
		Server: ServerDTO{
			Address:    nonNil(s.Server.Addresses),
			PrivateKey: s.Server.PrivateKey,
			PublicKey:  s.Server.PublicKey,
			Endpoint:   s.Server.Endpoint,
			ListenPort: s.Server.ListenPort,
		},
	}
}

func (r UpdateSettingsRequest) toInput() domain.UpdateSettingsInput {
	input := domain.UpdateSettingsInput{Review: r.Review}
	if r.Server != nil {
		input.Server = &domain.ServerConfig{
			Addresses:  r.Server.Address,
			PrivateKey: r.Server.PrivateKey,
			Endpoint:   r.Server.Endpoint,
			ListenPort: r.Server.ListenPort,
		}
	}
	return input
}

func taskToStatus(t task.Task) PlaybookStatusResponse {
	return PlaybookStatusResponse{State: string(t.State), Output: t.Result()}
}

func ruleToDTO(rule domain.CustomRule) CustomRuleDTO {
	return CustomRuleDTO{
		ID:       string(rule.ID),
		Title:    rule.Title,
		Type:     rule.Type,
		Src:      rule.Src,
		Dst:      rule.Dst,
		Protocol: rule.Protocol,
		Port:     rule.Port,
	}
}

func rulesToDTO(rules []domain.CustomRule) []CustomRuleDTO {
	out := make([]CustomRuleDTO, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleToDTO(rule))
	}
	return out
}

func (r CustomRuleDTO) toInput() domain.RuleInput {
	return domain.RuleInput{
		Title:    r.Title,
		Type:     r.Type,
		Src:      r.Src,
		Dst:      r.Dst,
		Protocol: r.Protocol,
		Port:     r.Port,
	}
}

func usersToResponse(users []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{ID: u.ID, Username: u.Username, Roles: nonNil(u.Roles), LastSeen: u.LastSeen})
	}
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
