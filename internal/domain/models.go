package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type PeerID string

type RuleID string

type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusAccepted ApprovalStatus = "ACCEPTED"
	StatusDeclined ApprovalStatus = "DECLINED"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined:
		return true
	}
	return false
}

type Rule struct {
	Protocol string `json:"protocol"`
	Ports    []int  `json:"ports,omitempty"`
}

type Service struct {
	Rules       []Rule   `json:"rules"`
	AllowedTags []string `json:"allowed_tags"`
}

// PeerSpec is the part of a peer that ends up in the deployed configuration.
type PeerSpec struct {
	OwnerID    string         `json:"user_id"`
	PublicKey  string         `json:"public_key"`
	AllowedIPs []string       `json:"allowed_ips"`
	Tags       []string       `json:"tags"`
	Services   []Service      `json:"services"`
	Status     ApprovalStatus `json:"permitted"`
	SubnetID   int            `json:"subnet"`
}

type Peer struct {
	ID    PeerID `json:"id"`
	Title string `json:"title"`
	PeerSpec
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Spec drops the fields that never reach the deployed configuration.
func (p Peer) Spec() PeerSpec {
	return p.PeerSpec.normalized()
}

func (s PeerSpec) normalized() PeerSpec {
	out := s
	out.AllowedIPs = nonNil(s.AllowedIPs)
	out.Tags = nonNil(s.Tags)
	out.Services = make([]Service, 0, len(s.Services))
	for _, svc := range s.Services {
		rules := make([]Rule, 0, len(svc.Rules))
		for _, rule := range svc.Rules {
			if len(rule.Ports) == 0 {
				rule.Ports = nil
			}
			rules = append(rules, rule)
		}
		out.Services = append(out.Services, Service{Rules: rules, AllowedTags: nonNil(svc.AllowedTags)})
	}
	return out
}

// key is a canonical encoding used for multiset comparison.
func (s PeerSpec) key() string {
	raw, err := json.Marshal(s.normalized())
	if err != nil {
		return fmt.Sprintf("%#v", s.normalized())
	}
	return string(raw)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type ServerConfig struct {
	Addresses  []string `json:"address"`
	PrivateKey string   `json:"private_key,omitempty"`
	PublicKey  string   `json:"public_key"`
	Endpoint   string   `json:"endpoint"`
	ListenPort int      `json:"listen_port"`
}

type Settings struct {
	Review bool         `json:"review"`
	Server ServerConfig `json:"server"`
}

// Public returns the view shown to non-administrators.
func (s Settings) Public() Settings {
	out := s
	out.Server.PrivateKey = ""
	out.Server.Addresses = append([]string(nil), s.Server.Addresses...)
	return out
}

type User struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Roles    []string  `json:"roles"`
	LastSeen time.Time `json:"last_seen"`
}

type CustomRule struct {
	ID       RuleID `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	Protocol string `json:"protocol"`
	Port     string `json:"port"`
}

// Actor is the verified identity performing a mutation.
type Actor struct {
	ID    string
	Admin bool
}

// ClientConfig is the input of the client configuration renderer.
type ClientConfig struct {
	Interface ClientInterface
	Peers     []ClientRemote
}

type ClientInterface struct {
	Address    string
	PrivateKey string
}

type ClientRemote struct {
	PublicKey  string
	Endpoint   string
	AllowedIPs []string
}
